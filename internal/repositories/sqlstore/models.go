package sqlstore

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
)

type cartLineModel struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	UserID    int64           `gorm:"not null;uniqueIndex:uq_cart_lines_key,priority:1;index:idx_cart_lines_user"`
	ProductID int64           `gorm:"not null;uniqueIndex:uq_cart_lines_key,priority:2"`
	Size      string          `gorm:"size:64;not null;default:'';uniqueIndex:uq_cart_lines_key,priority:3"`
	Price     decimal.Decimal `gorm:"type:numeric(12,2);not null;uniqueIndex:uq_cart_lines_key,priority:4"`
	Quantity  int             `gorm:"not null"`
	CreatedAt time.Time       `gorm:"not null;index:idx_cart_lines_created"`
	UpdatedAt time.Time       `gorm:"not null"`
}

func (cartLineModel) TableName() string { return "cart_lines" }

func (m cartLineModel) toDomain() domain.CartLine {
	return domain.CartLine{
		ID:        m.ID,
		UserID:    m.UserID,
		ProductID: m.ProductID,
		Size:      m.Size,
		Price:     m.Price.Round(2),
		Quantity:  m.Quantity,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

type orderModel struct {
	ID            int64           `gorm:"primaryKey;autoIncrement"`
	OrderNumber   string          `gorm:"size:64;not null;uniqueIndex"`
	UserID        int64           `gorm:"not null;index"`
	CustomerName  string          `gorm:"size:255"`
	CustomerEmail string          `gorm:"size:255"`
	CustomerPhone string          `gorm:"size:64"`
	CustomerCity  string          `gorm:"size:128"`
	HasShipping   bool            `gorm:"not null;default:false"`
	ShipLine1     string          `gorm:"size:255"`
	ShipLine2     string          `gorm:"size:255"`
	ShipCity      string          `gorm:"size:128"`
	ShipState     string          `gorm:"size:128"`
	ShipZip       string          `gorm:"size:32"`
	ShipPhone     string          `gorm:"size:64"`
	Subtotal      decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Tax           decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	ShippingCost  decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	TotalAmount   decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Status        string          `gorm:"size:32;not null;index:idx_orders_status_date,priority:1"`
	PaymentMethod string          `gorm:"size:64"`
	Notes         string          `gorm:"type:text"`
	DeliveryDate  *time.Time
	OrderDate     time.Time        `gorm:"not null;index:idx_orders_status_date,priority:2"`
	CreatedAt     time.Time        `gorm:"not null"`
	UpdatedAt     time.Time        `gorm:"not null"`
	Lines         []orderLineModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (orderModel) TableName() string { return "orders" }

func orderFromDomain(order domain.Order) orderModel {
	m := orderModel{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CustomerName:  order.Customer.Name,
		CustomerEmail: order.Customer.Email,
		CustomerPhone: order.Customer.Phone,
		CustomerCity:  order.Customer.City,
		Subtotal:      order.Subtotal,
		Tax:           order.Tax,
		ShippingCost:  order.ShippingCost,
		TotalAmount:   order.TotalAmount,
		Status:        string(order.Status),
		PaymentMethod: order.PaymentMethod,
		Notes:         order.Notes,
		OrderDate:     order.OrderDate.UTC(),
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
	if order.Shipping != nil {
		m.HasShipping = true
		m.ShipLine1 = order.Shipping.Line1
		m.ShipLine2 = order.Shipping.Line2
		m.ShipCity = order.Shipping.City
		m.ShipState = order.Shipping.State
		m.ShipZip = order.Shipping.Zip
		m.ShipPhone = order.Shipping.Phone
	}
	if order.DeliveryDate != nil {
		d := order.DeliveryDate.UTC()
		m.DeliveryDate = &d
	}
	return m
}

func (m orderModel) toDomain() domain.Order {
	order := domain.Order{
		ID:          m.ID,
		OrderNumber: m.OrderNumber,
		UserID:      m.UserID,
		Customer: domain.CustomerSnapshot{
			Name:  m.CustomerName,
			Email: m.CustomerEmail,
			Phone: m.CustomerPhone,
			City:  m.CustomerCity,
		},
		Subtotal:      m.Subtotal.Round(2),
		Tax:           m.Tax.Round(2),
		ShippingCost:  m.ShippingCost.Round(2),
		TotalAmount:   m.TotalAmount.Round(2),
		Status:        domain.OrderStatus(m.Status),
		PaymentMethod: m.PaymentMethod,
		Notes:         m.Notes,
		OrderDate:     m.OrderDate.UTC(),
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
	if m.HasShipping {
		order.Shipping = &domain.ShippingSnapshot{
			Line1: m.ShipLine1,
			Line2: m.ShipLine2,
			City:  m.ShipCity,
			State: m.ShipState,
			Zip:   m.ShipZip,
			Phone: m.ShipPhone,
		}
	}
	if m.DeliveryDate != nil {
		d := m.DeliveryDate.UTC()
		order.DeliveryDate = &d
	}
	order.Lines = make([]domain.OrderLine, 0, len(m.Lines))
	for _, line := range m.Lines {
		order.Lines = append(order.Lines, line.toDomain())
	}
	return order
}

type orderLineModel struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement"`
	OrderID            int64           `gorm:"not null;index"`
	Position           int             `gorm:"not null"`
	ProductID          int64           `gorm:"not null"`
	ProductName        string          `gorm:"size:255"`
	ProductDescription string          `gorm:"type:text"`
	ProductImageURL    string          `gorm:"size:1024"`
	ProductCategory    string          `gorm:"size:128"`
	Size               string          `gorm:"size:64"`
	UnitPrice          decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Quantity           int             `gorm:"not null"`
	TotalPrice         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
}

func (orderLineModel) TableName() string { return "order_lines" }

func orderLineFromDomain(line domain.OrderLine) orderLineModel {
	return orderLineModel{
		ID:                 line.ID,
		OrderID:            line.OrderID,
		Position:           line.Position,
		ProductID:          line.ProductID,
		ProductName:        line.ProductName,
		ProductDescription: line.ProductDescription,
		ProductImageURL:    line.ProductImageURL,
		ProductCategory:    line.ProductCategory,
		Size:               line.Size,
		UnitPrice:          line.UnitPrice,
		Quantity:           line.Quantity,
		TotalPrice:         line.TotalPrice,
	}
}

func (m orderLineModel) toDomain() domain.OrderLine {
	return domain.OrderLine{
		ID:                 m.ID,
		OrderID:            m.OrderID,
		Position:           m.Position,
		ProductID:          m.ProductID,
		ProductName:        m.ProductName,
		ProductDescription: m.ProductDescription,
		ProductImageURL:    m.ProductImageURL,
		ProductCategory:    m.ProductCategory,
		Size:               m.Size,
		UnitPrice:          m.UnitPrice.Round(2),
		Quantity:           m.Quantity,
		TotalPrice:         m.TotalPrice.Round(2),
	}
}

type userModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:255"`
	Email     string `gorm:"size:255;uniqueIndex"`
	Phone     string `gorm:"size:64"`
	City      string `gorm:"size:128"`
	Role      string `gorm:"size:32;not null;default:'USER'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userModel) TableName() string { return "users" }

func (m userModel) toDomain() domain.User {
	return domain.User{
		ID:    m.ID,
		Name:  m.Name,
		Email: m.Email,
		Phone: m.Phone,
		City:  m.City,
		Role:  domain.Role(m.Role),
	}
}

type addressModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserID    int64  `gorm:"not null;index"`
	Line1     string `gorm:"size:255"`
	Line2     string `gorm:"size:255"`
	City      string `gorm:"size:128"`
	State     string `gorm:"size:128"`
	Zip       string `gorm:"size:32"`
	Phone     string `gorm:"size:64"`
	Label     string `gorm:"size:64"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (addressModel) TableName() string { return "addresses" }

func (m addressModel) toDomain() domain.Address {
	return domain.Address{
		ID:     m.ID,
		UserID: m.UserID,
		Line1:  m.Line1,
		Line2:  m.Line2,
		City:   m.City,
		State:  m.State,
		Zip:    m.Zip,
		Phone:  m.Phone,
		Label:  m.Label,
	}
}

type productModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"size:255;not null"`
	Description string `gorm:"type:text"`
	ImageURL    string `gorm:"size:1024"`
	Category    string `gorm:"size:128;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Variants    []productVariantModel `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
}

func (productModel) TableName() string { return "products" }

func (m productModel) toDomain() domain.Product {
	product := domain.Product{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		ImageURL:    m.ImageURL,
		Category:    m.Category,
		Variants:    make([]domain.ProductVariant, 0, len(m.Variants)),
	}
	for _, v := range m.Variants {
		product.Variants = append(product.Variants, domain.ProductVariant{
			ID:       v.ID,
			Size:     v.Size,
			Price:    v.Price.Round(2),
			Quantity: v.Quantity,
		})
	}
	return product
}

type productVariantModel struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	ProductID int64           `gorm:"not null;index"`
	Size      string          `gorm:"size:64"`
	Price     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Quantity  int             `gorm:"not null;default:0"`
}

func (productVariantModel) TableName() string { return "product_variants" }

func allModels() []any {
	return []any{
		&userModel{},
		&addressModel{},
		&productModel{},
		&productVariantModel{},
		&cartLineModel{},
		&orderModel{},
		&orderLineModel{},
	}
}
