package crm

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Directory is the in-memory CRM. All methods return copies.
type Directory struct {
	mu            sync.RWMutex
	customers     []Customer
	opportunities []Opportunity
	contacts      []Contact
	nextContactID int64
}

func NewDirectory(customers []Customer, opportunities []Opportunity, contacts []Contact) *Directory {
	d := &Directory{
		customers:     slices.Clone(customers),
		opportunities: slices.Clone(opportunities),
		contacts:      slices.Clone(contacts),
	}
	for _, c := range d.contacts {
		if c.ID > d.nextContactID {
			d.nextContactID = c.ID
		}
	}
	return d
}

// NewSampleDirectory returns a directory seeded with demo accounts.
func NewSampleDirectory() *Directory {
	return NewDirectory(SampleCustomers(), SampleOpportunities(), SampleContacts())
}

func (d *Directory) ListContacts() []Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.contacts)
}

func (d *Directory) GetContact(id int64) (Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	idx := d.contactIndex(id)
	if idx < 0 {
		return Contact{}, ErrContactNotFound
	}
	return d.contacts[idx], nil
}

func (d *Directory) CreateContact(c Contact) (Contact, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return Contact{}, fmt.Errorf("%w: name is required", ErrInvalidContact)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextContactID++
	c.ID = d.nextContactID
	d.contacts = append(d.contacts, c)
	return c, nil
}

func (d *Directory) UpdateContact(id int64, patch ContactPatch) (Contact, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return Contact{}, fmt.Errorf("%w: name cannot be blank", ErrInvalidContact)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.contactIndex(id)
	if idx < 0 {
		return Contact{}, ErrContactNotFound
	}
	c := d.contacts[idx]
	if patch.Name != nil {
		c.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Email != nil {
		c.Email = *patch.Email
	}
	if patch.Phone != nil {
		c.Phone = *patch.Phone
	}
	if patch.Role != nil {
		c.Role = *patch.Role
	}
	d.contacts[idx] = c
	return c, nil
}

func (d *Directory) DeleteContact(id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.contactIndex(id)
	if idx < 0 {
		return ErrContactNotFound
	}
	d.contacts = slices.Delete(d.contacts, idx, idx+1)
	return nil
}

func (d *Directory) contactIndex(id int64) int {
	return slices.IndexFunc(d.contacts, func(c Contact) bool { return c.ID == id })
}

// ListCustomers matches Search against name, email and owner. Sort is
// "name" (default) or "recent" (newest first).
func (d *Directory) ListCustomers(q Query) (Page[Customer], error) {
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	d.mu.RLock()
	var out []Customer
	for _, c := range d.customers {
		if needle == "" || containsFold(c.Name, needle) || containsFold(c.Email, needle) || containsFold(c.Owner, needle) {
			out = append(out, c)
		}
	}
	d.mu.RUnlock()

	var cmpFn func(a, b Customer) int
	switch q.Sort {
	case "", "name":
		cmpFn = func(a, b Customer) int { return strings.Compare(a.Name, b.Name) }
	case "recent":
		cmpFn = func(a, b Customer) int { return b.CreatedAt.Compare(a.CreatedAt) }
	default:
		return Page[Customer]{}, fmt.Errorf("%w: unknown customer sort %q", ErrInvalidQuery, q.Sort)
	}
	slices.SortStableFunc(out, direction(cmpFn, q.Desc))
	return paginate(out, q), nil
}

func (d *Directory) GetCustomer(id int64) (Customer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.customers {
		if c.ID == id {
			return c, nil
		}
	}
	return Customer{}, ErrCustomerNotFound
}

// ListOpportunities matches Search against name, customer name and stage.
func (d *Directory) ListOpportunities(q Query) (Page[Opportunity], error) {
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	d.mu.RLock()
	var out []Opportunity
	for _, o := range d.opportunities {
		if needle == "" || containsFold(o.Name, needle) || containsFold(o.CustomerName, needle) || containsFold(o.Stage, needle) {
			out = append(out, o)
		}
	}
	d.mu.RUnlock()

	var cmpFn func(a, b Opportunity) int
	switch q.Sort {
	case "", "name":
		cmpFn = func(a, b Opportunity) int { return strings.Compare(a.Name, b.Name) }
	case "amount":
		cmpFn = func(a, b Opportunity) int { return cmp.Compare(a.Amount, b.Amount) }
	case "stage":
		cmpFn = func(a, b Opportunity) int { return strings.Compare(a.Stage, b.Stage) }
	case "customerName":
		cmpFn = func(a, b Opportunity) int { return strings.Compare(a.CustomerName, b.CustomerName) }
	default:
		return Page[Opportunity]{}, fmt.Errorf("%w: unknown opportunity sort %q", ErrInvalidQuery, q.Sort)
	}
	slices.SortStableFunc(out, direction(cmpFn, q.Desc))
	return paginate(out, q), nil
}

func (d *Directory) GetOpportunity(id int64) (Opportunity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, o := range d.opportunities {
		if o.ID == id {
			return o, nil
		}
	}
	return Opportunity{}, ErrOpportunityNotFound
}

func (d *Directory) OpportunitiesForCustomer(customerID int64) []Opportunity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Opportunity
	for _, o := range d.opportunities {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	return out
}

func direction[T any](fn func(a, b T) int, desc bool) func(a, b T) int {
	if !desc {
		return fn
	}
	return func(a, b T) int { return fn(b, a) }
}
