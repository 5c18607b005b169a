package invite

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"backend-karttracker/internal/history"
)

// UserMessage is the text shown when a scanned code or opened link is
// rejected.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrMalformedPayload):
		return "O formato do QR code não é válido."
	case errors.Is(err, ErrInvalidPayload):
		return "O QR code não contém informações de circuito válidas."
	case errors.Is(err, ErrMissingSession), errors.Is(err, ErrUnknownRoute):
		return "O link não contém uma sessão de corrida válida."
	default:
		return "Não foi possível processar o convite."
	}
}

func InvitationMessage(circuitName, joinURL string) string {
	return strings.Join([]string{
		"🏎️ Convite para Corrida de Kart",
		"🏁 Circuito: " + circuitName,
		"🔗 Clique no link para participar: " + joinURL,
		"",
		"Enviado via Kart Tracker App",
	}, "\n")
}

func ResultsMessage(e history.Entry) string {
	return strings.Join([]string{
		"🏎️ Corrida de Kart - " + e.CircuitName,
		"📅 " + shareDate(e.Date),
		fmt.Sprintf("🏁 %dº lugar de %d participantes", e.Position, e.TotalParticipants),
		"⏱️ Tempo: " + e.Duration,
		fmt.Sprintf("🛣️ Distância: %.2f km", e.Distance/1000),
		"🚀 Velocidade máxima: " + number(e.MaxSpeed) + " km/h",
		"📊 Velocidade média: " + number(e.AvgSpeed) + " km/h",
		fmt.Sprintf("🔄 Voltas completadas: %d", e.Laps),
		"",
		"Compartilhado via Kart Tracker App",
	}, "\n")
}

// shareDate renders dd/mm/yyyy and passes unparsable dates through.
func shareDate(raw string) string {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return raw
	}
	return t.Format("02/01/2006")
}

func number(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
