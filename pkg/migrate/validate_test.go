package migrate_test

import (
	"testing"

	"github.com/lumehealth/lume-sync/pkg/config"
	"github.com/lumehealth/lume-sync/pkg/migrate"
)

func TestValidateDirAcceptsShippedMigrations(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir(migrations) returned error: %v", err)
	}
}

func TestValidateDirRequiresDir(t *testing.T) {
	if err := migrate.ValidateDir(""); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}

func TestDialectFor(t *testing.T) {
	cases := []struct {
		driver  string
		want    string
		wantErr bool
	}{
		{driver: config.DriverSQLite, want: "sqlite3"},
		{driver: config.DriverPostgres, want: "postgres"},
		{driver: "mysql", wantErr: true},
		{driver: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := migrate.DialectFor(tc.driver)
		if tc.wantErr {
			if err == nil {
				t.Errorf("DialectFor(%q): expected error", tc.driver)
			}
			continue
		}
		if err != nil {
			t.Errorf("DialectFor(%q): unexpected error: %v", tc.driver, err)
			continue
		}
		if got != tc.want {
			t.Errorf("DialectFor(%q) = %q, want %q", tc.driver, got, tc.want)
		}
	}
}
