package attestation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servicecivique/attestation/internal/audit"
	"github.com/servicecivique/attestation/internal/demande"
	"github.com/servicecivique/attestation/internal/pdf"
	"github.com/servicecivique/attestation/internal/qrsign"
)

var testKey = []byte("cle-de-test-attestations")

// memStore simule la persistance transactionnelle : compteur annuel,
// attestations et statuts de demandes partagent le même verrou, et un échec
// du callback annule l'allocation du numéro comme le ferait un rollback.
type memStore struct {
	mu       sync.Mutex
	seq      map[int]int
	byID     map[uuid.UUID]Attestation
	statuts  map[uuid.UUID]demande.Statut
	dossiers map[uuid.UUID]demande.Dossier
}

func newMemStore() *memStore {
	return &memStore{
		seq:      make(map[int]int),
		byID:     make(map[uuid.UUID]Attestation),
		statuts:  make(map[uuid.UUID]demande.Statut),
		dossiers: make(map[uuid.UUID]demande.Dossier),
	}
}

func (m *memStore) addDossier(d demande.Dossier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dossiers[d.Demande.ID] = d
	m.statuts[d.Demande.ID] = d.Demande.Statut
}

func (m *memStore) GetDossier(ctx context.Context, id uuid.UUID) (demande.Dossier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dossiers[id]
	if !ok {
		return demande.Dossier{}, demande.ErrNotFound
	}
	d.Demande.Statut = m.statuts[id]
	return d, nil
}

func (m *memStore) CreateNumbered(ctx context.Context, demandeID uuid.UUID, annee int,
	build func(ctx context.Context, numero string) (Attestation, error)) (Attestation, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	numero := fmt.Sprintf("ATT-%d-%05d", annee, m.seq[annee]+1)
	att, err := build(ctx, numero)
	if err != nil {
		return Attestation{}, err
	}
	// Unicité de demande_id, comme la contrainte SQL traduite en
	// ErrAlreadyIssued par le dépôt.
	for _, cur := range m.byID {
		if cur.DemandeID == demandeID {
			return Attestation{}, ErrAlreadyIssued
		}
	}
	if m.statuts[demandeID] != demande.StatutValidee {
		return Attestation{}, ErrInvalidState
	}
	m.seq[annee]++
	m.byID[att.ID] = att
	m.statuts[demandeID] = demande.StatutEnAttenteSignature
	return att, nil
}

func (m *memStore) Get(ctx context.Context, id uuid.UUID) (Attestation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return Attestation{}, ErrNotFound
	}
	return a, nil
}

func (m *memStore) GetByDemande(ctx context.Context, demandeID uuid.UUID) (Attestation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.DemandeID == demandeID {
			return a, nil
		}
	}
	return Attestation{}, ErrNotFound
}

func (m *memStore) GetByNumero(ctx context.Context, numero string) (Attestation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Numero == numero {
			return a, nil
		}
	}
	return Attestation{}, ErrNotFound
}

func (m *memStore) ApplySignature(ctx context.Context, a Attestation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[a.ID]
	if !ok || cur.Statut != StatutEnAttenteSignature {
		return ErrNotSignable
	}
	m.byID[a.ID] = a
	m.statuts[a.DemandeID] = demande.StatutSignee
	return nil
}

func (m *memStore) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok || a.Statut != StatutSignee {
		return ErrNotFound
	}
	a.Statut = StatutDelivree
	m.byID[id] = a
	m.statuts[a.DemandeID] = demande.StatutDelivree
	return nil
}

func (m *memStore) DeleteAndRevert(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byID, id)
	m.statuts[a.DemandeID] = demande.StatutValidee
	return nil
}

func (m *memStore) DiscardUnsigned(ctx context.Context, demandeID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statuts[demandeID] != demande.StatutEnAttenteSignature {
		return ErrNotFound
	}
	for id, a := range m.byID {
		if a.DemandeID == demandeID && a.Statut == StatutEnAttenteSignature {
			delete(m.byID, id)
		}
	}
	m.statuts[demandeID] = demande.StatutEnTraitement
	return nil
}

type memTemplates struct {
	tpl pdf.Template
	err error
}

func (m memTemplates) GetActive(ctx context.Context) (pdf.Template, error) {
	return m.tpl, m.err
}

type stubRenderer struct{}

func (stubRenderer) RenderUnsigned(ctx context.Context, tpl pdf.Template, values map[string]string) ([]byte, error) {
	return []byte("%PDF provisoire " + values[pdf.ChampNumero]), nil
}

func (stubRenderer) RenderSigned(ctx context.Context, tpl pdf.Template, values map[string]string, sig pdf.SignatureInput, qrPayload []byte) ([]byte, error) {
	return append([]byte("%PDF signe "), qrPayload...), nil
}

type memBlobs struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failPuts int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (m *memBlobs) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPuts > 0 {
		m.failPuts--
		return "", errors.New("stockage injoignable")
	}
	m.objects[key] = append([]byte(nil), body...)
	return key, nil
}

func (m *memBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[key]
	if !ok {
		return nil, errors.New("objet absent")
	}
	return body, nil
}

type envoi struct {
	destinataire string
	modele       string
	numero       string
}

type memNotifier struct {
	mu     sync.Mutex
	envois []envoi
}

func (m *memNotifier) Dispatch(ctx context.Context, recipient, templateKey string, vars map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envois = append(m.envois, envoi{recipient, templateKey, vars["numero"]})
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	actions []string
}

func (m *memAudit) Record(ctx context.Context, actor audit.Actor, action, targetType, targetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
}

func validTemplate() pdf.Template {
	return pdf.Template{
		ID:            uuid.New(),
		Nom:           "officiel-2026",
		Actif:         true,
		SchemaVersion: pdf.SchemaVersion,
		PageWidth:     595,
		PageHeight:    842,
		Orientation:   "portrait",
		BackgroundKey: "modeles/fond.png",
		Fields: []pdf.Field{
			{ID: pdf.ChampNumero, Label: "Numéro", Type: pdf.FieldText, X: 60, Y: 120, FontSize: 12},
			{ID: pdf.ChampNom, Label: "Nom", Type: pdf.FieldText, X: 60, Y: 160, FontSize: 12},
		},
		SignatureBox: pdf.Box{X: 380, Y: 700, Width: 140, Height: 60},
		QRBox:        pdf.QRBox{X: 60, Y: 700, Size: 90},
	}
}

func dossierValide() demande.Dossier {
	id := uuid.New()
	naissance := time.Date(2001, 3, 14, 0, 0, 0, 0, time.UTC)
	arrete := "ARR-2026-117"
	return demande.Dossier{
		Demande: demande.Demande{ID: id, Numero: "SC-2026-A1B2C3D4", Statut: demande.StatutValidee},
		Appele: demande.Appele{
			ID:              uuid.New(),
			DemandeID:       id,
			Nom:             "ABDOU",
			Prenom:          "Karim",
			DateNaissance:   naissance,
			LieuNaissance:   "Moroni",
			Diplome:         "Licence en droit",
			Promotion:       "2025",
			Structure:       "Ministère de la Justice",
			DebutService:    time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
			ReferenceArrete: &arrete,
		},
	}
}

func newHarness(t *testing.T) (*Service, *memStore, *memBlobs, *memAudit) {
	t.Helper()
	store := newMemStore()
	blobs := newMemBlobs()
	auditRec := &memAudit{}
	svc := NewService(store, store, memTemplates{tpl: validTemplate()}, stubRenderer{},
		blobs, testKey, auditRec, &memNotifier{})
	return svc, store, blobs, auditRec
}

func TestGenerateFirstOfYear(t *testing.T) {
	svc, store, blobs, auditRec := newHarness(t)
	dossier := dossierValide()
	store.addDossier(dossier)

	att, err := svc.Generate(context.Background(), dossier.Demande.ID, audit.Actor{ID: uuid.New()})
	require.NoError(t, err)

	annee := time.Now().UTC().Year()
	assert.Equal(t, fmt.Sprintf("ATT-%d-00001", annee), att.Numero)
	assert.Equal(t, StatutEnAttenteSignature, att.Statut)
	assert.Equal(t, demande.StatutEnAttenteSignature, store.statuts[dossier.Demande.ID])

	// Le PDF provisoire est stocké.
	_, err = blobs.Get(context.Background(), att.PDFKey)
	require.NoError(t, err)

	// Charge utile sans digest avant signature.
	payload, err := qrsign.Decode(att.QRPayload)
	require.NoError(t, err)
	assert.Empty(t, payload.Digest)
	assert.Equal(t, att.Numero, payload.Numero)
	assert.Equal(t, "ABDOU", payload.Nom)

	assert.Contains(t, auditRec.actions, audit.ActionGeneration)
}

func TestGenerateRejectsWrongStatus(t *testing.T) {
	svc, store, _, _ := newHarness(t)
	dossier := dossierValide()
	dossier.Demande.Statut = demande.StatutEnTraitement
	store.addDossier(dossier)

	_, err := svc.Generate(context.Background(), dossier.Demande.ID, audit.Actor{})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestGenerateRejectsSecondIssue(t *testing.T) {
	svc, store, _, _ := newHarness(t)
	dossier := dossierValide()
	store.addDossier(dossier)

	_, err := svc.Generate(context.Background(), dossier.Demande.ID, audit.Actor{})
	require.NoError(t, err)

	// La demande n'est plus VALIDEE, mais même revalidée l'unicité tient.
	store.mu.Lock()
	store.statuts[dossier.Demande.ID] = demande.StatutValidee
	store.mu.Unlock()

	_, err = svc.Generate(context.Background(), dossier.Demande.ID, audit.Actor{})
	assert.ErrorIs(t, err, ErrAlreadyIssued)
}

func TestGenerateWithoutActiveTemplate(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, memTemplates{err: pdf.ErrNoActiveTemplate}, stubRenderer{},
		newMemBlobs(), testKey, &memAudit{}, &memNotifier{})
	dossier := dossierValide()
	store.addDossier(dossier)

	_, err := svc.Generate(context.Background(), dossier.Demande.ID, audit.Actor{})
	assert.ErrorIs(t, err, pdf.ErrNoActiveTemplate)
}

func TestGenerateStorageFailureLeavesNoTrace(t *testing.T) {
	svc, store, blobs, _ := newHarness(t)
	dossier := dossierValide()
	store.addDossier(dossier)
	blobs.failPuts = 10 // dépasse les tentatives du service

	_, err := svc.Generate(context.Background(), dossier.Demande.ID, audit.Actor{})
	require.ErrorIs(t, err, ErrStorage)

	// Rien n'est persisté : ni attestation, ni numéro consommé.
	_, err = store.GetByDemande(context.Background(), dossier.Demande.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.seq[time.Now().UTC().Year()])
	assert.Equal(t, demande.StatutValidee, store.statuts[dossier.Demande.ID])
}

func TestGenerateRetriesTransientStorage(t *testing.T) {
	svc, store, blobs, _ := newHarness(t)
	dossier := dossierValide()
	store.addDossier(dossier)
	blobs.failPuts = 2 // la troisième tentative passe

	att, err := svc.Generate(context.Background(), dossier.Demande.ID, audit.Actor{})
	require.NoError(t, err)
	assert.NotEmpty(t, att.Numero)
}

func TestGenerateConcurrentSequenceIsUnique(t *testing.T) {
	svc, store, _, _ := newHarness(t)

	const n = 20
	ids := make([]uuid.UUID, n)
	for i := range ids {
		d := dossierValide()
		ids[i] = d.Demande.ID
		store.addDossier(d)
	}

	numeros := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			att, err := svc.Generate(context.Background(), id, audit.Actor{})
			if err == nil {
				numeros <- att.Numero
			}
		}(ids[i])
	}
	wg.Wait()
	close(numeros)

	seen := make(map[string]bool)
	for num := range numeros {
		assert.False(t, seen[num], "numéro dupliqué: %s", num)
		seen[num] = true
	}
	assert.Len(t, seen, n)
}

func TestGenerateConcurrentSameDemande(t *testing.T) {
	svc, store, _, _ := newHarness(t)
	dossier := dossierValide()
	store.addDossier(dossier)

	// Deux appels simultanés peuvent tous deux passer le contrôle
	// d'idempotence du service ; le perdant doit ressortir en conflit
	// propre, jamais en erreur brute de contrainte.
	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Generate(context.Background(), dossier.Demande.ID, audit.Actor{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succes int
	for err := range errs {
		if err == nil {
			succes++
			continue
		}
		assert.True(t, errors.Is(err, ErrAlreadyIssued) || errors.Is(err, ErrInvalidState),
			"erreur inattendue: %v", err)
	}
	assert.Equal(t, 1, succes)
}

func signerFixture(t *testing.T, svc *Service, store *memStore) (Attestation, demande.Dossier) {
	t.Helper()
	dossier := dossierValide()
	store.addDossier(dossier)
	att, err := svc.Generate(context.Background(), dossier.Demande.ID, audit.Actor{ID: uuid.New()})
	require.NoError(t, err)
	return att, dossier
}

func TestSignThenVerify(t *testing.T) {
	svc, store, _, auditRec := newHarness(t)
	att, dossier := signerFixture(t, svc, store)

	signed, err := svc.Sign(context.Background(), att.ID, SignInput{
		SignataireID:  uuid.New(),
		Type:          SignatureElectronique,
		SignataireNom: "Le Directeur Général",
	}, audit.Actor{ID: uuid.New()})
	require.NoError(t, err)

	assert.Equal(t, StatutSignee, signed.Statut)
	require.NotNil(t, signed.DateSignature)
	assert.Equal(t, demande.StatutSignee, store.statuts[dossier.Demande.ID])
	assert.Contains(t, auditRec.actions, audit.ActionSignature)

	payload, err := qrsign.Decode(signed.QRPayload)
	require.NoError(t, err)
	assert.NotEmpty(t, payload.Digest)

	resp := svc.Verify(context.Background(), signed.Numero, "", "")
	require.True(t, resp.Valid)
	require.NotNil(t, resp.Attestation)
	assert.Equal(t, "ABDOU", resp.Attestation.Nom)
	assert.Equal(t, signed.Numero, resp.Attestation.Numero)
	assert.Nil(t, resp.Fresh)
}

func TestSignRejectsAlreadySigned(t *testing.T) {
	svc, store, _, _ := newHarness(t)
	att, _ := signerFixture(t, svc, store)

	input := SignInput{SignataireID: uuid.New(), Type: SignatureElectronique, SignataireNom: "DG"}
	_, err := svc.Sign(context.Background(), att.ID, input, audit.Actor{})
	require.NoError(t, err)

	_, err = svc.Sign(context.Background(), att.ID, input, audit.Actor{})
	assert.ErrorIs(t, err, ErrNotSignable)
}

func TestVerifyBeforeSignatureFails(t *testing.T) {
	svc, store, _, _ := newHarness(t)
	att, _ := signerFixture(t, svc, store)

	resp := svc.Verify(context.Background(), att.Numero, "", "")
	assert.False(t, resp.Valid)
	assert.Equal(t, reasonInvalide, resp.Reason)
	assert.Nil(t, resp.Attestation)
}

func TestVerifyUnknownNumero(t *testing.T) {
	svc, _, _, _ := newHarness(t)

	resp := svc.Verify(context.Background(), "ATT-2026-99999", "", "")
	assert.False(t, resp.Valid)
	assert.Equal(t, reasonInvalide, resp.Reason)
}

func TestVerifyDetectsTamperedPayload(t *testing.T) {
	svc, store, _, _ := newHarness(t)
	att, _ := signerFixture(t, svc, store)

	_, err := svc.Sign(context.Background(), att.ID,
		SignInput{SignataireID: uuid.New(), Type: SignatureElectronique, SignataireNom: "DG"},
		audit.Actor{})
	require.NoError(t, err)

	// Altération d'un octet du nom dans la charge utile stockée.
	store.mu.Lock()
	cur := store.byID[att.ID]
	payload, err := qrsign.Decode(cur.QRPayload)
	require.NoError(t, err)
	payload.Nom = "ABDOV"
	cur.QRPayload, err = payload.Encode()
	require.NoError(t, err)
	store.byID[att.ID] = cur
	store.mu.Unlock()

	resp := svc.Verify(context.Background(), att.Numero, "", "")
	assert.False(t, resp.Valid)
	assert.Equal(t, reasonInvalide, resp.Reason)
}

func TestVerifyFreshnessFlag(t *testing.T) {
	svc, store, _, _ := newHarness(t)
	att, _ := signerFixture(t, svc, store)
	_, err := svc.Sign(context.Background(), att.ID,
		SignInput{SignataireID: uuid.New(), Type: SignatureElectronique, SignataireNom: "DG"},
		audit.Actor{})
	require.NoError(t, err)

	now := time.Now()
	ts := fmt.Sprintf("%d", now.Unix())
	sig := qrsign.FreshnessToken(att.Numero, now, testKey)

	resp := svc.Verify(context.Background(), att.Numero, sig, ts)
	require.True(t, resp.Valid)
	require.NotNil(t, resp.Fresh)
	assert.True(t, *resp.Fresh)

	// Preuve forgée : l'attestation reste valide, la fraîcheur non.
	resp = svc.Verify(context.Background(), att.Numero, "deadbeef", ts)
	require.True(t, resp.Valid)
	require.NotNil(t, resp.Fresh)
	assert.False(t, *resp.Fresh)
}

func TestDeliverAndDelete(t *testing.T) {
	svc, store, _, auditRec := newHarness(t)
	att, dossier := signerFixture(t, svc, store)
	_, err := svc.Sign(context.Background(), att.ID,
		SignInput{SignataireID: uuid.New(), Type: SignatureManuscrite, SignataireNom: "DG"},
		audit.Actor{})
	require.NoError(t, err)

	require.NoError(t, svc.Deliver(context.Background(), att.ID, audit.Actor{}))
	assert.Equal(t, demande.StatutDelivree, store.statuts[dossier.Demande.ID])
	assert.Contains(t, auditRec.actions, audit.ActionDelivrance)

	require.NoError(t, svc.Delete(context.Background(), att.ID, audit.Actor{}))
	assert.Equal(t, demande.StatutValidee, store.statuts[dossier.Demande.ID])
	assert.Contains(t, auditRec.actions, audit.ActionSuppression)

	// Le numéro annulé n'est jamais réattribué.
	d2 := dossierValide()
	store.addDossier(d2)
	att2, err := svc.Generate(context.Background(), d2.Demande.ID, audit.Actor{})
	require.NoError(t, err)
	assert.NotEqual(t, att.Numero, att2.Numero)
}

func TestSignEtDelivranceNotifientLAppele(t *testing.T) {
	store := newMemStore()
	notifier := &memNotifier{}
	svc := NewService(store, store, memTemplates{tpl: validTemplate()}, stubRenderer{},
		newMemBlobs(), testKey, &memAudit{}, notifier)

	dossier := dossierValide()
	email := "k.abdou@example.km"
	dossier.Appele.Email = &email
	store.addDossier(dossier)

	att, err := svc.Generate(context.Background(), dossier.Demande.ID, audit.Actor{})
	require.NoError(t, err)
	assert.Empty(t, notifier.envois)

	_, err = svc.Sign(context.Background(), att.ID,
		SignInput{SignataireID: uuid.New(), Type: SignatureElectronique, SignataireNom: "DG"},
		audit.Actor{})
	require.NoError(t, err)
	require.Len(t, notifier.envois, 1)
	assert.Equal(t, envoi{email, "attestation_signee", att.Numero}, notifier.envois[0])

	require.NoError(t, svc.Deliver(context.Background(), att.ID, audit.Actor{}))
	require.Len(t, notifier.envois, 2)
	assert.Equal(t, envoi{email, "attestation_a_delivrer", att.Numero}, notifier.envois[1])
}

func TestBounceBackDiscardsUnsigned(t *testing.T) {
	svc, store, _, auditRec := newHarness(t)
	att, dossier := signerFixture(t, svc, store)

	require.NoError(t, svc.BounceBack(context.Background(), dossier.Demande.ID, audit.Actor{}))
	assert.Equal(t, demande.StatutEnTraitement, store.statuts[dossier.Demande.ID])
	assert.Contains(t, auditRec.actions, audit.ActionRenvoi)

	_, err := svc.store.Get(context.Background(), att.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
