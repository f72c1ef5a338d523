package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/servicecivique/attestation/internal/storage"
)

// Engine compose le PDF d'attestation : fond de modèle, champs positionnés,
// image de signature et QR code.
type Engine struct {
	store storage.Store
}

func NewEngine(store storage.Store) *Engine {
	return &Engine{store: store}
}

// SignatureInput décrit la signature à apposer : une image stockée, ou à
// défaut une mention textuelle.
type SignatureInput struct {
	ImageKey string
	Texte    string
}

const dateAffichage = "02/01/2006"

// RenderUnsigned rend le document sans signature ni HMAC. Échec franc et
// sans sortie partielle si le modèle est invalide ou le fond illisible.
func (e *Engine) RenderUnsigned(ctx context.Context, tpl Template, values map[string]string) ([]byte, error) {
	doc, err := e.base(ctx, tpl, values)
	if err != nil {
		return nil, err
	}
	return output(doc)
}

// RenderSigned rend le document final : champs, signature à sa boîte
// configurée et QR code signé à la sienne.
func (e *Engine) RenderSigned(ctx context.Context, tpl Template, values map[string]string, sig SignatureInput, qrPayload []byte) ([]byte, error) {
	doc, err := e.base(ctx, tpl, values)
	if err != nil {
		return nil, err
	}

	box := tpl.SignatureBox
	if sig.ImageKey != "" {
		img, err := e.store.Get(ctx, sig.ImageKey)
		if err != nil {
			return nil, fmt.Errorf("pdf: image de signature illisible: %w", err)
		}
		name := "signature-" + sig.ImageKey
		doc.RegisterImageOptionsReader(name,
			gofpdf.ImageOptions{ImageType: imageType(sig.ImageKey)}, bytes.NewReader(img))
		doc.ImageOptions(name, box.X, box.Y, box.Width, box.Height, false,
			gofpdf.ImageOptions{ImageType: imageType(sig.ImageKey)}, 0, "")
	} else {
		tr := doc.UnicodeTranslatorFromDescriptor("")
		doc.SetFont("Helvetica", "I", 11)
		doc.SetTextColor(0, 0, 0)
		doc.Text(box.X, box.Y+box.Height/2, tr(sig.Texte))
	}

	qrPNG, err := qrcode.Encode(string(qrPayload), qrcode.Medium, int(tpl.QRBox.Size))
	if err != nil {
		return nil, fmt.Errorf("pdf: génération du QR: %w", err)
	}
	doc.RegisterImageOptionsReader("qr",
		gofpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(qrPNG))
	doc.ImageOptions("qr", tpl.QRBox.X, tpl.QRBox.Y, tpl.QRBox.Size, tpl.QRBox.Size, false,
		gofpdf.ImageOptions{ImageType: "PNG"}, 0, "")

	return output(doc)
}

// base pose fond et champs, communs aux rendus signé et non signé.
func (e *Engine) base(ctx context.Context, tpl Template, values map[string]string) (*gofpdf.Fpdf, error) {
	if err := tpl.Validate(); err != nil {
		return nil, err
	}

	background, err := e.store.Get(ctx, tpl.BackgroundKey)
	if err != nil {
		return nil, fmt.Errorf("pdf: fond du modèle illisible: %w", err)
	}

	orientation := "P"
	if tpl.Orientation == "paysage" {
		orientation = "L"
	}
	doc := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: orientation,
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: tpl.PageWidth, Ht: tpl.PageHeight},
	})
	doc.SetAutoPageBreak(false, 0)
	doc.AddPage()

	doc.RegisterImageOptionsReader("fond",
		gofpdf.ImageOptions{ImageType: imageType(tpl.BackgroundKey)}, bytes.NewReader(background))
	doc.ImageOptions("fond", 0, 0, tpl.PageWidth, tpl.PageHeight, false,
		gofpdf.ImageOptions{ImageType: imageType(tpl.BackgroundKey)}, 0, "")

	tr := doc.UnicodeTranslatorFromDescriptor("")
	for _, f := range tpl.Fields {
		value := coerce(f, values[f.ID])
		if value == "" {
			continue
		}

		doc.SetFont("Helvetica", f.FontStyle, f.FontSize)
		r, g, b := parseColor(f.Color)
		doc.SetTextColor(r, g, b)

		value = clip(doc, tr(value), f.MaxWidth)
		doc.Text(f.X, f.Y, value)
	}

	return doc, nil
}

func output(doc *gofpdf.Fpdf) ([]byte, error) {
	if doc.Err() {
		return nil, fmt.Errorf("pdf: rendu en erreur: %v", doc.Error())
	}
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, err
	}
	if buf.Len() == 0 {
		return nil, errors.New("pdf: sortie vide")
	}
	return buf.Bytes(), nil
}

// coerce applique le type déclaré du champ : les dates sont reformatées au
// format d'affichage fixe, le reste passe tel quel.
func coerce(f Field, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if f.Type == FieldDate {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return t.Format(dateAffichage)
		}
	}
	return raw
}

// clip tronque la valeur avec points de suspension quand elle déborde de la
// largeur maximale déclarée. Déterministe : même entrée, même coupe.
func clip(doc *gofpdf.Fpdf, value string, maxWidth float64) string {
	if maxWidth <= 0 || doc.GetStringWidth(value) <= maxWidth {
		return value
	}
	const ellipsis = "..."
	runes := []rune(value)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + ellipsis
		if doc.GetStringWidth(candidate) <= maxWidth {
			return candidate
		}
	}
	return ellipsis
}

func parseColor(hexColor string) (int, int, int) {
	hexColor = strings.TrimPrefix(strings.TrimSpace(hexColor), "#")
	if len(hexColor) != 6 {
		return 0, 0, 0
	}
	var r, g, b int
	if _, err := fmt.Sscanf(hexColor, "%02x%02x%02x", &r, &g, &b); err != nil {
		return 0, 0, 0
	}
	return r, g, b
}

func imageType(key string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(key), ".jpg"), strings.HasSuffix(strings.ToLower(key), ".jpeg"):
		return "JPG"
	default:
		return "PNG"
	}
}
