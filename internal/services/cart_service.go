package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/cache"
	"github.com/hanko-field/commerce/internal/repositories"
)

const cartReadTimeout = 5 * time.Second

var (
	errCartRepositoryRequired = errors.New("cart service: cart line repository is required")
	errCartProductsRequired   = errors.New("cart service: product repository is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested line or product does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// CartServiceDeps wires the repositories and cache used by cart operations.
type CartServiceDeps struct {
	Lines      repositories.CartLineRepository
	Products   repositories.ProductRepository
	UnitOfWork repositories.UnitOfWork
	Cache      CartCache
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

type cartService struct {
	lines      repositories.CartLineRepository
	products   repositories.ProductRepository
	unitOfWork repositories.UnitOfWork
	cache      CartCache
	reads      singleflight.Group
	now        func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Lines == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartProductsRequired
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		lines:      deps.Lines,
		products:   deps.Products,
		unitOfWork: unit,
		cache:      deps.Cache,
		now:        func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// AddLine increments the line matching (user, product, size, price) or creates it.
func (s *cartService) AddLine(ctx context.Context, cmd AddCartLineCommand) (CartLine, error) {
	if s == nil || s.lines == nil {
		return CartLine{}, ErrCartUnavailable
	}
	if cmd.UserID <= 0 {
		return CartLine{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if err := validateCartItem(cmd.ProductID, cmd.Quantity); err != nil {
		return CartLine{}, err
	}

	line, err := s.addLine(ctx, cmd)
	if err != nil {
		return CartLine{}, err
	}
	s.invalidate(ctx, cmd.UserID)
	s.logger(ctx, "cart.line.added", map[string]any{
		"userId":    cmd.UserID,
		"productId": cmd.ProductID,
		"lineId":    line.ID,
		"quantity":  line.Quantity,
	})
	return line, nil
}

func (s *cartService) addLine(ctx context.Context, cmd AddCartLineCommand) (CartLine, error) {
	product, err := s.products.FindByID(ctx, cmd.ProductID)
	if err != nil {
		return CartLine{}, s.translateRepoError(err)
	}
	price, size, err := ResolveUnitPrice(product, cmd.Price, cmd.Size)
	if err != nil {
		return CartLine{}, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}
	key := domain.CartLineKey{UserID: cmd.UserID, ProductID: product.ID, Size: size, Price: price}
	line, err := s.lines.AddOrIncrement(ctx, key, cmd.Quantity, s.now())
	if err != nil {
		return CartLine{}, s.translateRepoError(err)
	}
	return line, nil
}

// ListLines returns every line of the user, served from the cache when possible.
func (s *cartService) ListLines(ctx context.Context, userID int64) ([]CartLine, error) {
	if s == nil || s.lines == nil {
		return nil, ErrCartUnavailable
	}
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	if s.cache != nil {
		lines, err := s.cache.Get(ctx, userID)
		if err == nil {
			return lines, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger(ctx, "cart.cache.error", map[string]any{"userId": userID, "op": "get", "error": err.Error()})
		}
	}

	ch := s.reads.DoChan(cartReadKey(userID), func() (any, error) {
		return s.loadLines(ctx, userID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, s.translateRepoError(res.Err)
		}
		lines := res.Val.([]CartLine)
		return append([]CartLine(nil), lines...), nil
	}
}

// loadLines reads the store on behalf of every caller joined to the flight, so it is detached from
// the first caller's cancellation and bounded by cartReadTimeout instead.
func (s *cartService) loadLines(ctx context.Context, userID int64) ([]CartLine, error) {
	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cartReadTimeout)
	defer cancel()

	var generation int64
	cacheable := s.cache != nil
	if cacheable {
		gen, err := s.cache.Generation(readCtx, userID)
		if err != nil {
			cacheable = false
			s.logger(ctx, "cart.cache.error", map[string]any{"userId": userID, "op": "generation", "error": err.Error()})
		}
		generation = gen
	}

	lines, err := s.lines.ListByUser(readCtx, userID)
	if err != nil {
		return nil, err
	}
	if cacheable {
		if err := s.cache.Set(readCtx, userID, generation, lines); err != nil && !errors.Is(err, cache.ErrStaleGeneration) {
			s.logger(ctx, "cart.cache.error", map[string]any{"userId": userID, "op": "set", "error": err.Error()})
		}
	}
	return lines, nil
}

// GetLine loads a single line by id.
func (s *cartService) GetLine(ctx context.Context, lineID int64) (CartLine, error) {
	if s == nil || s.lines == nil {
		return CartLine{}, ErrCartUnavailable
	}
	if lineID <= 0 {
		return CartLine{}, fmt.Errorf("%w: line id is required", ErrCartInvalidInput)
	}
	line, err := s.lines.FindByID(ctx, lineID)
	if err != nil {
		return CartLine{}, s.translateRepoError(err)
	}
	return line, nil
}

// UpdateQuantity overwrites the quantity of an existing line.
func (s *cartService) UpdateQuantity(ctx context.Context, lineID int64, quantity int) (CartLine, error) {
	if s == nil || s.lines == nil {
		return CartLine{}, ErrCartUnavailable
	}
	if lineID <= 0 {
		return CartLine{}, fmt.Errorf("%w: line id is required", ErrCartInvalidInput)
	}
	if quantity <= 0 {
		return CartLine{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}

	line, err := s.lines.UpdateQuantity(ctx, lineID, quantity, s.now())
	if err != nil {
		return CartLine{}, s.translateRepoError(err)
	}
	s.invalidate(ctx, line.UserID)
	return line, nil
}

// RemoveLine deletes a line by id. Ownership is not checked here.
func (s *cartService) RemoveLine(ctx context.Context, lineID int64) error {
	if s == nil || s.lines == nil {
		return ErrCartUnavailable
	}
	if lineID <= 0 {
		return fmt.Errorf("%w: line id is required", ErrCartInvalidInput)
	}

	var owner int64
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		line, err := s.lines.FindByID(txCtx, lineID)
		if err != nil {
			return err
		}
		owner = line.UserID
		return s.lines.Delete(txCtx, lineID)
	})
	if err != nil {
		return s.translateRepoError(err)
	}
	s.invalidate(ctx, owner)
	return nil
}

// Clear removes every line of the user in one transaction.
func (s *cartService) Clear(ctx context.Context, userID int64) error {
	if s == nil || s.lines == nil {
		return ErrCartUnavailable
	}
	if userID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		_, err := s.lines.DeleteByUser(txCtx, userID)
		return err
	})
	if err != nil {
		return s.translateRepoError(err)
	}
	s.invalidate(ctx, userID)
	return nil
}

// BatchApply validates every operation, then applies them in order inside one transaction.
// Update and remove locate their line by key and are skipped when no line matches.
func (s *cartService) BatchApply(ctx context.Context, cmd BatchCartCommand) ([]CartLine, error) {
	if s == nil || s.lines == nil {
		return nil, ErrCartUnavailable
	}
	if cmd.UserID <= 0 {
		return nil, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	for i, op := range cmd.Operations {
		if err := validateCartOperation(op); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
	}

	var result []CartLine
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		for _, op := range cmd.Operations {
			if err := s.applyOperation(txCtx, cmd.UserID, op); err != nil {
				return err
			}
		}
		lines, err := s.lines.ListByUser(txCtx, cmd.UserID)
		if err != nil {
			return s.translateRepoError(err)
		}
		result = lines
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cmd.UserID)
	return result, nil
}

func (s *cartService) applyOperation(ctx context.Context, userID int64, op CartOperation) error {
	if op.Action == domain.CartActionAdd {
		_, err := s.addLine(ctx, AddCartLineCommand{
			UserID:    userID,
			ProductID: op.ProductID,
			Size:      op.Size,
			Price:     op.Price,
			Quantity:  op.Quantity,
		})
		return err
	}

	key, ok, err := s.operationKey(ctx, userID, op)
	if err != nil || !ok {
		return err
	}
	line, err := s.lines.FindByKey(ctx, key)
	if err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return s.translateRepoError(err)
	}

	switch op.Action {
	case domain.CartActionUpdate:
		_, err = s.lines.UpdateQuantity(ctx, line.ID, op.Quantity, s.now())
	case domain.CartActionRemove:
		err = s.lines.Delete(ctx, line.ID)
	}
	if err != nil && !isRepoNotFound(err) {
		return s.translateRepoError(err)
	}
	return nil
}

// operationKey builds the lookup key for update and remove. A nil price resolves the same way add does,
// so an unknown product yields no key.
func (s *cartService) operationKey(ctx context.Context, userID int64, op CartOperation) (domain.CartLineKey, bool, error) {
	if op.Price != nil {
		price, size, err := ResolveUnitPrice(Product{ID: op.ProductID}, op.Price, op.Size)
		if err != nil {
			return domain.CartLineKey{}, false, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
		}
		return domain.CartLineKey{UserID: userID, ProductID: op.ProductID, Size: size, Price: price}, true, nil
	}
	product, err := s.products.FindByID(ctx, op.ProductID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.CartLineKey{}, false, nil
		}
		return domain.CartLineKey{}, false, s.translateRepoError(err)
	}
	price, size, err := ResolveUnitPrice(product, nil, op.Size)
	if err != nil {
		return domain.CartLineKey{}, false, nil
	}
	return domain.CartLineKey{UserID: userID, ProductID: product.ID, Size: size, Price: price}, true, nil
}

func (s *cartService) invalidate(ctx context.Context, userID int64) {
	if userID <= 0 {
		return
	}
	// Callers arriving after the mutation must not join a read that started before it.
	s.reads.Forget(cartReadKey(userID))
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger(ctx, "cart.cache.error", map[string]any{"userId": userID, "op": "invalidate", "error": err.Error()})
	}
}

func cartReadKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func validateCartItem(productID int64, quantity int) error {
	if productID <= 0 {
		return fmt.Errorf("%w: product id must be positive", ErrCartInvalidInput)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}
	return nil
}

func validateCartOperation(op CartOperation) error {
	switch op.Action {
	case domain.CartActionAdd, domain.CartActionUpdate:
		if err := validateCartItem(op.ProductID, op.Quantity); err != nil {
			return err
		}
	case domain.CartActionRemove:
		if op.ProductID <= 0 {
			return fmt.Errorf("%w: product id must be positive", ErrCartInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrCartInvalidInput, op.Action)
	}
	if op.Price != nil && op.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrCartInvalidInput)
	}
	return nil
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCartInvalidInput) || errors.Is(err, ErrCartNotFound) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCartNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCartConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
	}
	return fmt.Errorf("cart service: %w", err)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
