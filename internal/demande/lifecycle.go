package demande

import "fmt"

// IllegalTransitionError signale une transition de statut interdite.
// La machine à états ne rabat jamais vers un état voisin valide.
type IllegalTransitionError struct {
	From Statut
	To   Statut
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("transition illégale: %s -> %s", e.From, e.To)
}

// transitions recense les seuls enchaînements autorisés.
var transitions = map[Statut][]Statut{
	StatutEnregistree:        {StatutEnTraitement},
	StatutEnTraitement:       {StatutPiecesNonConformes, StatutValidee, StatutRejetee},
	StatutPiecesNonConformes: {StatutEnTraitement, StatutValidee, StatutRejetee},
	StatutValidee:            {StatutEnAttenteSignature},
	StatutEnAttenteSignature: {StatutSignee, StatutEnTraitement},
	// La sortie de SIGNEE/DELIVREE vers VALIDEE correspond à l'annulation
	// administrative de l'attestation, seule mutation tolérée.
	StatutSignee:   {StatutDelivree, StatutValidee},
	StatutDelivree: {StatutValidee},
	StatutRejetee:  {},
}

// CanTransition indique si le passage from -> to est autorisé.
func CanTransition(from, to Statut) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition valide le passage demandé ou retourne IllegalTransitionError.
func Transition(from, to Statut) error {
	if !CanTransition(from, to) {
		return IllegalTransitionError{From: from, To: to}
	}
	return nil
}

// Editable indique si les données de l'appelé et la check-list restent
// modifiables par un agent.
func Editable(s Statut) bool {
	switch s {
	case StatutEnregistree, StatutEnTraitement, StatutPiecesNonConformes:
		return true
	}
	return false
}

// Reviewable indique si la demande peut être validée ou rejetée.
func Reviewable(s Statut) bool {
	return s == StatutEnTraitement || s == StatutPiecesNonConformes
}

// Statuts liste tous les statuts connus, utile aux tests d'exhaustivité.
var Statuts = []Statut{
	StatutEnregistree,
	StatutEnTraitement,
	StatutPiecesNonConformes,
	StatutValidee,
	StatutEnAttenteSignature,
	StatutSignee,
	StatutDelivree,
	StatutRejetee,
}
