package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/emspub-checkout/internal/db"
)

const (
	typeString = "string"
	typeBool   = "bool"
)

// Querier is the subset of db.Queries used by PGStore.
type Querier interface {
	GetPaymentSetting(ctx context.Context, arg db.GetPaymentSettingParams) (db.PaymentSetting, error)
	UpsertPaymentSetting(ctx context.Context, arg db.UpsertPaymentSettingParams) error
}

// PGStore keeps settings in the payment_settings table under one plugin name.
type PGStore struct {
	Q      Querier
	Plugin string
}

// Get implements Store.
func (s PGStore) Get(ctx context.Context, tenantID, key string) (any, error) {
	row, err := s.Q.GetPaymentSetting(ctx, db.GetPaymentSettingParams{
		TenantID:    tenantID,
		PluginName:  s.Plugin,
		SettingName: key,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if row.SettingType == typeBool {
		return row.SettingValue == "true", nil
	}
	return row.SettingValue, nil
}

// Set implements Store. Only string and bool values are accepted.
func (s PGStore) Set(ctx context.Context, tenantID, key string, value any) error {
	params := db.UpsertPaymentSettingParams{
		TenantID:    tenantID,
		PluginName:  s.Plugin,
		SettingName: key,
	}
	switch v := value.(type) {
	case string:
		params.SettingValue, params.SettingType = v, typeString
	case bool:
		params.SettingType = typeBool
		params.SettingValue = "false"
		if v {
			params.SettingValue = "true"
		}
	default:
		return fmt.Errorf("settings: unsupported value type %T for %s", value, key)
	}
	return s.Q.UpsertPaymentSetting(ctx, params)
}
