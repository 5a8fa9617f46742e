package service

import (
	"context"
	"fmt"
	"strings"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/ledger"
	"materialpos/backend/internal/store"
	"materialpos/backend/internal/xid"
)

// ListCustomers returns every customer with debt and lifetime value derived
// from the sale registry at read time.
func (s *Service) ListCustomers(ctx context.Context) ([]domain.CustomerSummary, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{})
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.CustomerSummary, 0, len(customers))
	for _, c := range customers {
		summaries = append(summaries, ledger.Summarize(c, sales))
	}
	return summaries, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.CustomerSummary, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.CustomerSummary{}, err
	}
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{CustomerID: customer.ID})
	if err != nil {
		return domain.CustomerSummary{}, err
	}
	return ledger.Summarize(*customer, sales), nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.CreditLimit < 0 {
		return domain.Customer{}, store.ErrInvalidTransaction
	}
	customerType := strings.ToUpper(strings.TrimSpace(req.Type))
	if customerType == "" {
		customerType = domain.CustomerTypeGeneral
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:          xid.New("cus"),
		Name:        name,
		Phone:       strings.TrimSpace(req.Phone),
		Type:        customerType,
		Address:     strings.TrimSpace(req.Address),
		CreditLimit: req.CreditLimit,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s,credit_limit=%d", created.Name, created.CreditLimit))
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	id = strings.TrimSpace(id)
	if id == domain.GeneralCustomerID {
		return domain.Customer{}, fmt.Errorf("%w: the walk-in customer cannot be edited", store.ErrInvalidTransaction)
	}
	existing, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Type != nil {
		updated.Type = strings.ToUpper(strings.TrimSpace(*req.Type))
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.CreditLimit != nil {
		updated.CreditLimit = *req.CreditLimit
	}
	if updated.Name == "" || updated.CreditLimit < 0 {
		return domain.Customer{}, store.ErrInvalidTransaction
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_update", "customer", saved.ID, fmt.Sprintf("credit_limit %d->%d", existing.CreditLimit, saved.CreditLimit))
	return *saved, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == domain.GeneralCustomerID {
		return fmt.Errorf("%w: the walk-in customer cannot be deleted", store.ErrInUse)
	}
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "customer_delete", "customer", id, "")
	return nil
}

// SettleDebt applies a payment across the customer's outstanding sales,
// oldest first.
func (s *Service) SettleDebt(ctx context.Context, customerID string, req domain.SettlementRequest) (domain.SettlementResult, error) {
	result, err := s.repo.SettleDebt(ctx, store.SettleCommand{
		Command:    s.command(ctx),
		CustomerID: strings.TrimSpace(customerID),
		Amount:     req.Amount,
		Method:     req.Method,
		Note:       strings.TrimSpace(req.Note),
	})
	if err != nil {
		return domain.SettlementResult{}, err
	}
	s.logAudit(ctx, "debt_settle", "customer", customerID,
		fmt.Sprintf("amount=%d,method=%s,sales=%d", req.Amount, result.Transaction.Method, len(result.Allocations)))
	return *result, nil
}
