package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits pageSize.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps the supported pageSize to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

// Order describes a single order-by clause.
type Order struct {
	Field string
	Desc  bool
}

// Params bundles pagination and sorting values extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	Orders    []Order
}

// Options control how Parse behaves for a given handler.
type Options struct {
	DefaultPageSize    int
	MaxPageSize        int
	AllowedOrderFields []string
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidOrderBy   = errors.New("pagination: invalid orderBy")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// FromRequest parses the supported query parameters from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes pageSize, pageToken and orderBy query values.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	pageSize, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: pageSize}

	if raw := strings.TrimSpace(values.Get("pageToken")); raw != "" {
		cursor, err := DecodeToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = raw
		params.Cursor = cursor
	}

	orders, err := parseOrder(values["orderBy"], opts.AllowedOrderFields)
	if err != nil {
		return Params{}, err
	}
	params.Orders = orders
	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	defaultPageSize := opts.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	defaultPageSize = min(defaultPageSize, maxPageSize)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultPageSize, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	return min(value, maxPageSize), nil
}

// parseOrder accepts "field", "field desc", "field:desc" and "-field", comma separated or repeated.
func parseOrder(values []string, allowed []string) ([]Order, error) {
	if len(values) == 0 {
		return nil, nil
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: ordering not supported", ErrInvalidOrderBy)
	}

	var orders []Order
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			order, err := parseSingleOrder(part)
			if err != nil {
				return nil, err
			}
			if !slices.Contains(allowed, order.Field) {
				return nil, fmt.Errorf("%w: field %q is not allowed", ErrInvalidOrderBy, order.Field)
			}
			if slices.ContainsFunc(orders, func(o Order) bool { return o.Field == order.Field }) {
				continue
			}
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func parseSingleOrder(part string) (Order, error) {
	if strings.HasPrefix(part, "-") {
		return Order{Field: strings.TrimPrefix(part, "-"), Desc: true}, validateField(strings.TrimPrefix(part, "-"))
	}
	part = strings.ReplaceAll(part, ":", " ")
	segments := strings.Fields(part)
	if len(segments) == 0 || len(segments) > 2 {
		return Order{}, fmt.Errorf("%w: invalid orderBy format %q", ErrInvalidOrderBy, part)
	}
	order := Order{Field: segments[0]}
	if len(segments) == 2 {
		switch strings.ToLower(segments[1]) {
		case "asc":
		case "desc":
			order.Desc = true
		default:
			return Order{}, fmt.Errorf("%w: invalid direction %q", ErrInvalidOrderBy, segments[1])
		}
	}
	return order, validateField(order.Field)
}

func validateField(field string) error {
	if field == "" {
		return fmt.Errorf("%w: empty field", ErrInvalidOrderBy)
	}
	for _, r := range field {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return fmt.Errorf("%w: invalid field %q", ErrInvalidOrderBy, field)
		}
	}
	return nil
}
