package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// recordHandlers builds the repository handlers for records keyed by a
// string uuid column.
func recordHandlers[T any](identifier string, idOf func(*T) *string) repository.ModelHandlers[*T] {
	return repository.ModelHandlers[*T]{
		NewRecord: func() *T {
			return new(T)
		},
		GetID: func(record *T) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(*idOf(record))
		},
		SetID: func(record *T, id uuid.UUID) {
			if record == nil {
				return
			}
			*idOf(record) = id.String()
		},
		GetIdentifier: func() string {
			return identifier
		},
		GetIdentifierValue: func(record *T) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(*idOf(record))
		},
	}
}

func notificationHandlers() repository.ModelHandlers[*notificationRecord] {
	return recordHandlers("id", func(record *notificationRecord) *string { return &record.ID })
}

func deliveryHandlers() repository.ModelHandlers[*deliveryRecord] {
	return recordHandlers("id", func(record *deliveryRecord) *string { return &record.ID })
}

func webhookEventHandlers() repository.ModelHandlers[*webhookEventRecord] {
	return recordHandlers("id", func(record *webhookEventRecord) *string { return &record.ID })
}

func unsubscribeTokenHandlers() repository.ModelHandlers[*unsubscribeTokenRecord] {
	return recordHandlers("token", func(record *unsubscribeTokenRecord) *string { return &record.Token })
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
