package pdf

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBlobs struct {
	blobs map[string][]byte
}

func (m *memBlobs) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	m.blobs[key] = body
	return key, nil
}

func (m *memBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	b, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// fondPNG fabrique un fond uni minimal, suffisant pour exercer le rendu.
func fondPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newEngine(t *testing.T) (*Engine, *memBlobs) {
	t.Helper()
	blobs := &memBlobs{blobs: map[string][]byte{"modeles/fond.png": fondPNG(t)}}
	return NewEngine(blobs), blobs
}

func TestRenderUnsigned(t *testing.T) {
	engine, _ := newEngine(t)

	values := map[string]string{
		ChampNumero:        "ATT-2026-00001",
		ChampNom:           "ABDOU",
		ChampDateNaissance: "2001-03-14",
	}
	out, err := engine.RenderUnsigned(context.Background(), modeleValide(), values)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")), "la sortie doit être un PDF")
}

func TestRenderSignedAvecTexteEtQR(t *testing.T) {
	engine, _ := newEngine(t)

	values := map[string]string{ChampNumero: "ATT-2026-00001"}
	sig := SignatureInput{Texte: "Le Directeur Général"}
	out, err := engine.RenderSigned(context.Background(), modeleValide(), values, sig, []byte("n=ATT-2026-00001|h=abcd"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	// Le document signé embarque l'image du QR en plus du fond.
	assert.Greater(t, len(out), 0)
}

func TestRenderSignedImageIntrouvable(t *testing.T) {
	engine, _ := newEngine(t)

	sig := SignatureInput{ImageKey: "signatures/absente.png"}
	_, err := engine.RenderSigned(context.Background(), modeleValide(), nil, sig, []byte("payload"))
	assert.Error(t, err)
}

func TestRenderFondIllisible(t *testing.T) {
	engine, blobs := newEngine(t)
	delete(blobs.blobs, "modeles/fond.png")

	_, err := engine.RenderUnsigned(context.Background(), modeleValide(), nil)
	assert.Error(t, err)
}

func TestRenderRefuseModeleInvalide(t *testing.T) {
	engine, _ := newEngine(t)

	tpl := modeleValide()
	tpl.Fields = nil
	_, err := engine.RenderUnsigned(context.Background(), tpl, nil)
	assert.Error(t, err)
}

func TestCoerce(t *testing.T) {
	date := Field{ID: ChampDateNaissance, Type: FieldDate}
	texte := Field{ID: ChampNom, Type: FieldText}

	assert.Equal(t, "14/03/2001", coerce(date, "2001-03-14"))
	// Une date non ISO passe telle quelle plutôt que de faire échouer le rendu.
	assert.Equal(t, "14 mars 2001", coerce(date, "14 mars 2001"))
	assert.Equal(t, "ABDOU", coerce(texte, "  ABDOU  "))
	assert.Equal(t, "", coerce(texte, "   "))
}

func TestClipDeterministe(t *testing.T) {
	doc := gofpdf.New("P", "pt", "A4", "")
	doc.SetFont("Helvetica", "", 12)

	long := strings.Repeat("Ministère de la Jeunesse ", 10)
	courte := clip(doc, long, 120)
	require.NotEqual(t, long, courte)
	assert.True(t, strings.HasSuffix(courte, "..."))
	assert.LessOrEqual(t, doc.GetStringWidth(courte), 120.0)
	// Même entrée, même coupe.
	assert.Equal(t, courte, clip(doc, long, 120))

	// Pas de coupe quand la valeur tient, ni quand aucune largeur n'est fixée.
	assert.Equal(t, "ABDOU", clip(doc, "ABDOU", 120))
	assert.Equal(t, long, clip(doc, long, 0))
}

func TestParseColor(t *testing.T) {
	r, g, b := parseColor("#1A2B3C")
	assert.Equal(t, []int{26, 43, 60}, []int{r, g, b})

	r, g, b = parseColor("ff0000")
	assert.Equal(t, []int{255, 0, 0}, []int{r, g, b})

	// Valeur illisible : noir par défaut.
	r, g, b = parseColor("rouge")
	assert.Equal(t, []int{0, 0, 0}, []int{r, g, b})
}

func TestImageType(t *testing.T) {
	assert.Equal(t, "PNG", imageType("modeles/fond.png"))
	assert.Equal(t, "JPG", imageType("modeles/fond.JPEG"))
	assert.Equal(t, "JPG", imageType("signatures/dg.jpg"))
	assert.Equal(t, "PNG", imageType("sans-extension"))
}
