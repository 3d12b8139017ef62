package sqlstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/sqldb"
	"github.com/hanko-field/commerce/internal/repositories"
)

// CartLineRepository stores cart lines in the cart_lines table. The unique index on
// (user_id, product_id, size, price) is what makes concurrent adds merge instead of duplicate.
type CartLineRepository struct {
	db *gorm.DB
}

var _ repositories.CartLineRepository = (*CartLineRepository)(nil)

// NewCartLineRepository constructs a gorm-backed cart line repository.
func NewCartLineRepository(db *gorm.DB) (*CartLineRepository, error) {
	if db == nil {
		return nil, errors.New("cart line repository requires database")
	}
	return &CartLineRepository{db: db}, nil
}

// AddOrIncrement inserts the line or adds quantity to the existing row in a single upsert statement.
func (r *CartLineRepository) AddOrIncrement(ctx context.Context, key domain.CartLineKey, quantity int, now time.Time) (domain.CartLine, error) {
	now = now.UTC()
	row := cartLineModel{
		UserID:    key.UserID,
		ProductID: key.ProductID,
		Size:      key.Size,
		Price:     key.Price.Round(2),
		Quantity:  quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := sqldb.Conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "product_id"}, {Name: "size"}, {Name: "price"}},
		DoUpdates: clause.Assignments(map[string]any{
			"quantity":   gorm.Expr("cart_lines.quantity + excluded.quantity"),
			"updated_at": now,
		}),
	}).Create(&row).Error
	if err != nil {
		return domain.CartLine{}, sqldb.WrapError("cart_lines.add", err)
	}
	return r.FindByKey(ctx, key)
}

// FindByID loads one line.
func (r *CartLineRepository) FindByID(ctx context.Context, lineID int64) (domain.CartLine, error) {
	var row cartLineModel
	if err := sqldb.Conn(ctx, r.db).Where("id = ?", lineID).Take(&row).Error; err != nil {
		return domain.CartLine{}, sqldb.WrapError("cart_lines.find", err)
	}
	return row.toDomain(), nil
}

// FindByKey loads the line matching every component of key.
func (r *CartLineRepository) FindByKey(ctx context.Context, key domain.CartLineKey) (domain.CartLine, error) {
	var row cartLineModel
	err := sqldb.Conn(ctx, r.db).
		Where("user_id = ? AND product_id = ? AND size = ? AND price = ?", key.UserID, key.ProductID, key.Size, key.Price.Round(2)).
		Take(&row).Error
	if err != nil {
		return domain.CartLine{}, sqldb.WrapError("cart_lines.find_by_key", err)
	}
	return row.toDomain(), nil
}

// ListByUser returns the user's lines oldest first.
func (r *CartLineRepository) ListByUser(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	var rows []cartLineModel
	err := sqldb.Conn(ctx, r.db).
		Where("user_id = ?", userID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, sqldb.WrapError("cart_lines.list", err)
	}
	lines := make([]domain.CartLine, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, row.toDomain())
	}
	return lines, nil
}

// UpdateQuantity overwrites the quantity of the line.
func (r *CartLineRepository) UpdateQuantity(ctx context.Context, lineID int64, quantity int, now time.Time) (domain.CartLine, error) {
	res := sqldb.Conn(ctx, r.db).Model(&cartLineModel{}).
		Where("id = ?", lineID).
		Updates(map[string]any{"quantity": quantity, "updated_at": now.UTC()})
	if res.Error != nil {
		return domain.CartLine{}, sqldb.WrapError("cart_lines.update_quantity", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.CartLine{}, sqldb.NotFound("cart_lines.update_quantity")
	}
	return r.FindByID(ctx, lineID)
}

// Delete removes the line. Missing lines report not found.
func (r *CartLineRepository) Delete(ctx context.Context, lineID int64) error {
	res := sqldb.Conn(ctx, r.db).Where("id = ?", lineID).Delete(&cartLineModel{})
	if res.Error != nil {
		return sqldb.WrapError("cart_lines.delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return sqldb.NotFound("cart_lines.delete")
	}
	return nil
}

// DeleteByUser removes every line of the user.
func (r *CartLineRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	res := sqldb.Conn(ctx, r.db).Where("user_id = ?", userID).Delete(&cartLineModel{})
	if res.Error != nil {
		return 0, sqldb.WrapError("cart_lines.delete_by_user", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteCreatedBefore removes lines created strictly before cutoff.
func (r *CartLineRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (repositories.CartPurgeResult, error) {
	cutoff = cutoff.UTC()
	var result repositories.CartPurgeResult
	err := sqldb.Conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&cartLineModel{}).
			Where("created_at < ?", cutoff).
			Distinct().Order("user_id").
			Pluck("user_id", &result.UserIDs).Error; err != nil {
			return err
		}
		if len(result.UserIDs) == 0 {
			return nil
		}
		res := tx.Where("created_at < ?", cutoff).Delete(&cartLineModel{})
		if res.Error != nil {
			return res.Error
		}
		result.Deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return repositories.CartPurgeResult{}, sqldb.WrapError("cart_lines.purge", err)
	}
	return result, nil
}
