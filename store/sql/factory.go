package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-notify/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db    *bun.DB
	cache repositorycache.CacheService

	notificationStore     *NotificationStore
	cachedNotifications   *CachedNotificationStore
	deliveryStore         *DeliveryStore
	webhookEventStore     *WebhookEventStore
	unsubscribeTokenStore *UnsubscribeTokenStore
	eligibilityQuery      *EligibilityQuery
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// WithCache puts notification reads behind the given cache. It must be
// called before BuildStores.
func (f *RepositoryFactory) WithCache(cacheService repositorycache.CacheService) *RepositoryFactory {
	if f != nil {
		f.cache = cacheService
	}
	return f
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.notificationStore != nil && f.deliveryStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) NotificationStore() core.NotificationStore {
	if f == nil {
		return nil
	}
	if f.cachedNotifications != nil {
		return f.cachedNotifications
	}
	return f.notificationStore
}

func (f *RepositoryFactory) DeliveryLedger() core.DeliveryLedger {
	if f == nil {
		return nil
	}
	return f.deliveryStore
}

func (f *RepositoryFactory) WebhookEventLog() core.WebhookEventLog {
	if f == nil {
		return nil
	}
	return f.webhookEventStore
}

func (f *RepositoryFactory) UnsubscribeTokenStore() core.UnsubscribeTokenStore {
	if f == nil {
		return nil
	}
	return f.unsubscribeTokenStore
}

func (f *RepositoryFactory) EligibilityFinder() core.EligibilityFinder {
	if f == nil {
		return nil
	}
	return f.eligibilityQuery
}

func (f *RepositoryFactory) initStores() error {
	notificationStore, err := NewNotificationStore(f.db)
	if err != nil {
		return err
	}
	f.notificationStore = notificationStore
	if f.cache != nil {
		cached, err := NewCachedNotificationStore(notificationStore, f.cache)
		if err != nil {
			return err
		}
		f.cachedNotifications = cached
	}

	deliveryStore, err := NewDeliveryStore(f.db)
	if err != nil {
		return err
	}
	f.deliveryStore = deliveryStore

	webhookEventStore, err := NewWebhookEventStore(f.db)
	if err != nil {
		return err
	}
	f.webhookEventStore = webhookEventStore

	unsubscribeTokenStore, err := NewUnsubscribeTokenStore(f.db)
	if err != nil {
		return err
	}
	f.unsubscribeTokenStore = unsubscribeTokenStore

	eligibilityQuery, err := NewEligibilityQuery(f.db)
	if err != nil {
		return err
	}
	f.eligibilityQuery = eligibilityQuery
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
