package sqlstore

import "github.com/goliatone/go-notify/core"

var (
	_ core.NotificationStore     = (*NotificationStore)(nil)
	_ core.NotificationStore     = (*CachedNotificationStore)(nil)
	_ core.DeliveryLedger        = (*DeliveryStore)(nil)
	_ core.WebhookEventLog       = (*WebhookEventStore)(nil)
	_ core.UnsubscribeTokenStore = (*UnsubscribeTokenStore)(nil)
	_ core.EligibilityFinder     = (*EligibilityQuery)(nil)
	_ core.StoreProvider         = (*RepositoryFactory)(nil)
)
