package repos

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/reelworks/sportsreel-backend/internal/repos/testutil"
	"github.com/reelworks/sportsreel-backend/internal/types"
)

func TestAthleteRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	repo := NewAthleteRepo(db, testutil.Logger(t))
	ctx := context.Background()

	achievements, _ := json.Marshal([]string{"Olympic gold 2024", "World record 100m"})
	created, err := repo.Create(ctx, tx, []*types.Athlete{
		{
			ID:           uuid.New(),
			Name:         "Test Sprinter",
			Sport:        "athletics",
			Biography:    "Fastest in the test suite.",
			Achievements: datatypes.JSON(achievements),
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("Create: expected 1 athlete, got %d", len(created))
	}

	got, err := repo.GetByIDs(ctx, tx, []uuid.UUID{created[0].ID})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Test Sprinter" {
		t.Fatalf("GetByIDs: unexpected result: %+v", got)
	}

	listed, err := repo.List(ctx, tx, "athletics", 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	found := false
	for _, a := range listed {
		if a.ID == created[0].ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("List: created athlete not in sport-filtered results")
	}

	if err := repo.Update(ctx, tx, created[0].ID, map[string]interface{}{"biography": "updated"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err = repo.GetByIDs(ctx, tx, []uuid.UUID{created[0].ID})
	if err != nil {
		t.Fatalf("GetByIDs after update: %v", err)
	}
	if got[0].Biography != "updated" {
		t.Fatalf("Update: biography not applied: %q", got[0].Biography)
	}

	if err := repo.Delete(ctx, tx, created[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err = repo.GetByIDs(ctx, tx, []uuid.UUID{created[0].ID})
	if err != nil {
		t.Fatalf("GetByIDs after delete: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Delete: athlete still visible after soft delete")
	}
}
