package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds every SQL-backed store from one bun handle.
type RepositoryFactory struct {
	db *bun.DB

	webhookStore     *WebhookStore
	integrationStore *IntegrationConfigStore
	scheduleStore    *ScheduleStore
	deadLetterStore  *DeadLetterStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.webhookStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) WebhookStore() *WebhookStore {
	if f == nil {
		return nil
	}
	return f.webhookStore
}

func (f *RepositoryFactory) IntegrationConfigStore() *IntegrationConfigStore {
	if f == nil {
		return nil
	}
	return f.integrationStore
}

func (f *RepositoryFactory) ScheduleStore() *ScheduleStore {
	if f == nil {
		return nil
	}
	return f.scheduleStore
}

func (f *RepositoryFactory) DeadLetterStore() *DeadLetterStore {
	if f == nil {
		return nil
	}
	return f.deadLetterStore
}

func (f *RepositoryFactory) initStores() error {
	webhookStore, err := NewWebhookStore(f.db)
	if err != nil {
		return err
	}
	f.webhookStore = webhookStore

	integrationStore, err := NewIntegrationConfigStore(f.db)
	if err != nil {
		return err
	}
	f.integrationStore = integrationStore

	scheduleStore, err := NewScheduleStore(f.db)
	if err != nil {
		return err
	}
	f.scheduleStore = scheduleStore

	deadLetterStore, err := NewDeadLetterStore(f.db)
	if err != nil {
		return err
	}
	f.deadLetterStore = deadLetterStore

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
