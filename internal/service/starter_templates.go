package service

import (
	"github.com/Runline/runline/internal/domain"
)

// DefaultStarterTemplates returns the workspace-agnostic automations served
// when a workspace has none of its own for a trigger, so a fresh workspace
// sees automations working before configuring anything. They are not
// persisted; the trigger registry filters them by trigger type.
func DefaultStarterTemplates() []*domain.Automation {
	return []*domain.Automation{
		{
			ID:       "starter-booking-confirmation",
			Name:     "Booking confirmation",
			IsActive: true,
			Trigger:  &domain.TriggerConfig{Type: domain.TriggerAppointmentBooked},
			Steps: []*domain.AutomationStep{
				{
					ID:         "confirm-sms",
					Order:      1,
					ActionType: domain.ActionSendSMS,
					Config: map[string]interface{}{
						"template": "Hi {{ lead.name }}, your appointment on {{ appointment.start_time }} is confirmed. Reply STOP to opt out.",
					},
				},
			},
		},
		{
			ID:       "starter-lead-welcome",
			Name:     "New lead welcome",
			IsActive: true,
			Trigger:  &domain.TriggerConfig{Type: domain.TriggerLeadCreated},
			Steps: []*domain.AutomationStep{
				{
					ID:         "welcome-sms",
					Order:      1,
					ActionType: domain.ActionSendSMS,
					Config: map[string]interface{}{
						"template": "Hi {{ lead.name }}, thanks for reaching out! We'll be in touch shortly.",
					},
				},
				{
					ID:         "welcome-wait",
					Order:      2,
					ActionType: domain.ActionTimeDelay,
					Config: map[string]interface{}{
						"delay_minutes": float64(60),
					},
				},
				{
					ID:         "welcome-followup",
					Order:      3,
					ActionType: domain.ActionSendSMS,
					Config: map[string]interface{}{
						"template": "{{ lead.name }}, still interested? Book a time that works for you and we'll take it from there.",
					},
				},
			},
		},
		{
			ID:       "starter-payment-receipt",
			Name:     "Payment receipt",
			IsActive: true,
			Trigger:  &domain.TriggerConfig{Type: domain.TriggerPaymentReceived},
			Steps: []*domain.AutomationStep{
				{
					ID:         "receipt-email",
					Order:      1,
					ActionType: domain.ActionSendEmail,
					Config: map[string]interface{}{
						"template": "Hi {{ lead.name }}, we received your payment of {{ payment.amount }}. Thank you!",
					},
				},
			},
		},
	}
}
