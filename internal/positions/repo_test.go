package positions

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopbot-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
)

func TestFindVisibleHidesInvisiblePositions(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	visible, err := repo.Create(ctx, &models.Position{Name: "Key", PriceCents: 1000, IsVisible: true})
	if err != nil {
		t.Fatalf("create visible: %v", err)
	}
	hidden, err := repo.Create(ctx, &models.Position{Name: "Old key", PriceCents: 500, IsVisible: true})
	if err != nil {
		t.Fatalf("create hidden: %v", err)
	}
	if err := conn.Model(&models.Position{}).Where("id = ?", hidden.ID).Update("is_visible", false).Error; err != nil {
		t.Fatalf("hide position: %v", err)
	}

	got, err := repo.FindVisible(ctx, visible.ID)
	if err != nil {
		t.Fatalf("find visible: %v", err)
	}
	if got.PriceCents != 1000 {
		t.Fatalf("unexpected price %d", got.PriceCents)
	}

	if _, err := repo.FindVisible(ctx, hidden.ID); !pkgerrors.IsCode(err, pkgerrors.CodePositionNotFound) {
		t.Fatalf("expected hidden position to be not found, got %v", err)
	}
	if _, err := repo.FindVisible(ctx, uuid.New()); !pkgerrors.IsCode(err, pkgerrors.CodePositionNotFound) {
		t.Fatalf("expected missing position to be not found, got %v", err)
	}
	if _, err := repo.FindByID(ctx, hidden.ID); err != nil {
		t.Fatalf("FindByID should ignore visibility: %v", err)
	}
}

func TestCreateRejectsNonPositivePrice(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	_, err := repo.Create(context.Background(), &models.Position{Name: "Free", PriceCents: 0})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSchemaRejectsZeroPrice(t *testing.T) {
	conn := dbtest.Open(t)
	err := conn.Create(&models.Position{Name: "Free", PriceCents: 0, IsVisible: true}).Error
	if err == nil {
		t.Fatalf("expected price check constraint to reject a zero price")
	}
}
