package main

import (
	"testing"

	"github.com/ledgerdesk/ledgerdesk/internal/app"
	_ "github.com/ledgerdesk/ledgerdesk/testing"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	if !app.InTestMode() {
		t.Fatalf("expected test mode to be enabled")
	}
	main()
}
