// Package statemap holds the static mapping from helpdesk ticket statuses to
// the labels the PPM mirror field accepts.
package statemap

import (
	"sort"
	"strings"
)

// Label values accepted by the mirror status field.
const (
	Abierta              = "Abierta"
	EnEvaluacion         = "En evaluación"
	EnProgreso           = "En progreso"
	EsperandoAlCliente   = "Esperando al cliente"
	DerivadoAlFabricante = "Derivado al fabricante"
	Resuelto             = "Resuelto"
	Cerrada              = "Cerrada"
)

// Numeric helpdesk status codes as returned by the ticket API.
const (
	StatusOpen                  = 2
	StatusPending               = 3
	StatusResolved              = 4
	StatusClosed                = 5
	StatusWaitingOnCustomer     = 6
	StatusForwardedManufacturer = 7
	StatusInProgress            = 9
	StatusEvaluation            = 13
)

// textMapping maps status labels found in helpdesk exports to mirror labels.
// "Derivado al Fabricante" keeps its export casing; it differs from the
// canonical DerivadoAlFabricante label.
var textMapping = map[string]string{
	"Open":                   Abierta,
	"Closed":                 Cerrada,
	"Resolved":               Resuelto,
	"Derivado al Fabricante": "Derivado al Fabricante",
	"En evaluación":          EnEvaluacion,
	"En progreso":            EnProgreso,
	"Esperando al cliente":   EsperandoAlCliente,
}

var codeMapping = map[int]string{
	StatusOpen:                  Abierta,
	StatusPending:               EnEvaluacion,
	StatusResolved:              Resuelto,
	StatusClosed:                Cerrada,
	StatusWaitingOnCustomer:     EsperandoAlCliente,
	StatusForwardedManufacturer: DerivadoAlFabricante,
	StatusInProgress:            EnProgreso,
	StatusEvaluation:            EnEvaluacion,
}

var validLabels = []string{
	Abierta,
	EnEvaluacion,
	EnProgreso,
	EsperandoAlCliente,
	DerivadoAlFabricante,
	Resuelto,
	Cerrada,
}

// Lookup returns the mirror label for an exported status label.
// Surrounding whitespace is ignored. ok is false when no mapping exists.
func Lookup(label string) (string, bool) {
	mapped, ok := textMapping[strings.TrimSpace(label)]
	return mapped, ok
}

// LookupCode returns the mirror label for a numeric API status.
func LookupCode(code int) (string, bool) {
	mapped, ok := codeMapping[code]
	return mapped, ok
}

// IsValidLabel reports whether label is one of the accepted mirror labels.
func IsValidLabel(label string) bool {
	for _, l := range validLabels {
		if l == label {
			return true
		}
	}
	return false
}

// Labels returns the accepted mirror labels in display order.
func Labels() []string {
	out := make([]string, len(validLabels))
	copy(out, validLabels)
	return out
}

// SourceLabels returns the exported status labels that have a mapping, sorted.
func SourceLabels() []string {
	out := make([]string, 0, len(textMapping))
	for k := range textMapping {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
