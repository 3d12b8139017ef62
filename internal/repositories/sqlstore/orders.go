package sqlstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/platform/sqldb"
	"github.com/hanko-field/commerce/internal/repositories"
)

// OrderRepository stores orders and their lines in the orders and order_lines tables.
type OrderRepository struct {
	db *gorm.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a gorm-backed order repository.
func NewOrderRepository(db *gorm.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires database")
	}
	return &OrderRepository{db: db}, nil
}

// Insert persists the order header. Lines on the input are ignored.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	row := orderFromDomain(order)
	row.ID = 0
	if err := sqldb.Conn(ctx, r.db).Omit("Lines").Create(&row).Error; err != nil {
		return domain.Order{}, sqldb.WrapError("orders.insert", err)
	}
	return row.toDomain(), nil
}

// InsertLine persists one frozen order line.
func (r *OrderRepository) InsertLine(ctx context.Context, line domain.OrderLine) (domain.OrderLine, error) {
	row := orderLineFromDomain(line)
	row.ID = 0
	if err := sqldb.Conn(ctx, r.db).Create(&row).Error; err != nil {
		return domain.OrderLine{}, sqldb.WrapError("order_lines.insert", err)
	}
	return row.toDomain(), nil
}

// UpdateTotals writes the monetary fields and status of the order.
func (r *OrderRepository) UpdateTotals(ctx context.Context, order domain.Order) error {
	res := sqldb.Conn(ctx, r.db).Model(&orderModel{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"subtotal":      order.Subtotal,
			"tax":           order.Tax,
			"shipping_cost": order.ShippingCost,
			"total_amount":  order.TotalAmount,
			"status":        string(order.Status),
			"updated_at":    order.UpdatedAt.UTC(),
		})
	if res.Error != nil {
		return sqldb.WrapError("orders.update_totals", res.Error)
	}
	if res.RowsAffected == 0 {
		return sqldb.NotFound("orders.update_totals")
	}
	return nil
}

// UpdateLifecycle writes status and notes only while the row is still in the from status.
func (r *OrderRepository) UpdateLifecycle(ctx context.Context, orderID int64, from, to domain.OrderStatus, notes string, updatedAt time.Time) error {
	conn := sqldb.Conn(ctx, r.db)
	res := conn.Model(&orderModel{}).
		Where("id = ? AND status = ?", orderID, string(from)).
		Updates(map[string]any{
			"status":     string(to),
			"notes":      notes,
			"updated_at": updatedAt.UTC(),
		})
	if res.Error != nil {
		return sqldb.WrapError("orders.update_lifecycle", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := conn.Model(&orderModel{}).Where("id = ?", orderID).Count(&count).Error; err != nil {
		return sqldb.WrapError("orders.update_lifecycle", err)
	}
	if count == 0 {
		return sqldb.NotFound("orders.update_lifecycle")
	}
	return sqldb.Conflict("orders.update_lifecycle", repositories.ErrStatusChanged)
}

// FindByID loads the order with its lines in position order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID int64) (domain.Order, error) {
	var row orderModel
	err := sqldb.Conn(ctx, r.db).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC").Order("id ASC") }).
		Where("id = ?", orderID).
		Take(&row).Error
	if err != nil {
		return domain.Order{}, sqldb.WrapError("orders.find", err)
	}
	return row.toDomain(), nil
}

// List returns orders newest first, optionally narrowed to one user and a set of statuses.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	query := sqldb.Conn(ctx, r.db).Model(&orderModel{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		query = query.Where("status IN ?", statuses)
	}

	var rows []orderModel
	err = query.
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC").Order("id ASC") }).
		Order("order_date DESC").Order("id DESC").
		Offset(cursor.Offset).
		Limit(pageSize + 1).
		Find(&rows).Error
	if err != nil {
		return domain.CursorPage[domain.Order]{}, sqldb.WrapError("orders.list", err)
	}

	page := domain.CursorPage[domain.Order]{
		NextPageToken: pagination.NextToken(cursor.Offset, pageSize, len(rows)),
	}
	if len(rows) > pageSize {
		rows = rows[:pageSize]
	}
	page.Items = make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		page.Items = append(page.Items, row.toDomain())
	}
	return page, nil
}

// Delete removes the order and its lines.
func (r *OrderRepository) Delete(ctx context.Context, orderID int64) error {
	err := sqldb.Conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", orderID).Delete(&orderLineModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", orderID).Delete(&orderModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return sqldb.NotFound("orders.delete")
		}
		return nil
	})
	return sqldb.WrapError("orders.delete", err)
}

// DeleteByStatusBefore removes orders in status placed strictly before cutoff, lines included.
func (r *OrderRepository) DeleteByStatusBefore(ctx context.Context, status domain.OrderStatus, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	var deleted int64
	err := sqldb.Conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		var ids []int64
		if err := tx.Model(&orderModel{}).
			Where("status = ? AND order_date < ?", string(status), cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("order_id IN ?", ids).Delete(&orderLineModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&orderModel{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, sqldb.WrapError("orders.purge", err)
	}
	return deleted, nil
}
