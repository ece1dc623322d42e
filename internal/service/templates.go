// internal/service/templates.go
package service

import (
	"fmt"
	"strings"

	"github.com/unclebandit/followup-backend/internal/eligibility"
	"github.com/unclebandit/followup-backend/internal/model"
)

// builtinTemplates are the fallback day messages per language, used when
// neither the campaign nor the sender provides one for that day.
var builtinTemplates = map[string]model.DayTemplates{
	"en": {
		1: "Hi {name}! Just checking in about the invite you received. Let me know if you have any questions.",
		2: "Hi {name}, a quick reminder about your invite. It only takes a minute to get started.",
		3: "Hey {name}, still thinking it over? Happy to help with anything.",
		4: "Hi {name}, your invite is still waiting for you.",
		5: "Hi {name}, just a friendly nudge about the invite.",
		6: "Hi {name}, the invite is about to wind down. Don't miss out.",
		7: "Hi {name}, last reminder about your invite. After today we won't message you again.",
	},
	"es": {
		1: "¡Hola {name}! Te escribo por la invitación que recibiste. Avísame si tienes preguntas.",
		2: "Hola {name}, un recordatorio rápido sobre tu invitación.",
		3: "Hola {name}, ¿lo sigues pensando? Estoy para ayudarte.",
		4: "Hola {name}, tu invitación sigue esperándote.",
		5: "Hola {name}, solo un recordatorio amistoso sobre la invitación.",
		6: "Hola {name}, la invitación está por terminar.",
		7: "Hola {name}, último recordatorio sobre tu invitación. Después de hoy no te escribiremos más.",
	},
}

// ResolveTemplate picks the message body for a given day: the campaign's
// day template wins, then the sender's default, then the built-in for the
// recipient's language (English as the final fallback).
func ResolveTemplate(campaign *model.Campaign, cfg *model.SenderConfig, day int, language string) (string, error) {
	if campaign != nil {
		if body, ok := campaign.DayTemplates[day]; ok && strings.TrimSpace(body) != "" {
			return body, nil
		}
	}
	if cfg != nil {
		if body, ok := cfg.DayTemplates[day]; ok && strings.TrimSpace(body) != "" {
			return body, nil
		}
	}
	if byDay, ok := builtinTemplates[language]; ok {
		if body, ok := byDay[day]; ok {
			return body, nil
		}
	}
	if body, ok := builtinTemplates["en"][day]; ok {
		return body, nil
	}
	return "", fmt.Errorf("no template for day %d", day)
}

// RenderTemplate substitutes {placeholder} tokens with recipient data.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		if v == "" {
			v = "<unknown>"
		}
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// RenderFor renders a day template for one recipient.
func RenderFor(campaign *model.Campaign, cfg *model.SenderConfig, day int, rec *eligibility.Recipient) (string, error) {
	body, err := ResolveTemplate(campaign, cfg, day, rec.Language)
	if err != nil {
		return "", err
	}
	return RenderTemplate(body, map[string]string{"name": rec.Name}), nil
}
