package seed

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	appRepos "github.com/yigit/coursechat/internal/app/repositories"
)

func TestCreateDefaultDataIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := appRepos.NewMemoryChatRepository()

	for i := 0; i < 2; i++ {
		if err := CreateDefaultData(ctx, repo, zerolog.Nop()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	msgs, total, err := repo.ListByChannel(ctx, DemoChannelID, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != int64(len(demoMessages)) {
		t.Fatalf("total = %d, want %d", total, len(demoMessages))
	}
	// newest first
	if msgs[0].TempID != "seed-hours" || msgs[len(msgs)-1].TempID != "seed-welcome" {
		t.Fatalf("order = %s ... %s", msgs[0].TempID, msgs[len(msgs)-1].TempID)
	}
}
