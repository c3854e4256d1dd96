package app

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/starstore/core/bootstrap"
	"github.com/m3rciful/starstore/internal/ledger"
)

// RateSeeder stores rate as the global rate unless an admin already set one.
func RateSeeder(rate decimal.Decimal) bootstrap.NamedSeeder {
	return bootstrap.NamedSeeder{
		Name: "settings." + ledger.SettingRate,
		Seeder: bootstrap.SeederFunc(func(ctx context.Context, db *sqlx.DB) error {
			return ledger.NewStore(db).EnsureSetting(ctx, ledger.SettingRate, rate.String())
		}),
	}
}
