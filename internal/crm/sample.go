package crm

import "time"

func SampleCustomers() []Customer {
	return []Customer{
		{
			ID:             1,
			Name:           "Acme Corporation",
			Address:        "123 Main St, Anytown, USA",
			BillingAddress: "123 Main St, Anytown, USA",
			PhoneNumber:    "555-123-4567",
			Email:          "info@acmecorp.com",
			Owner:          "John Smith",
			Team:           []string{"Sales Team A"},
			CreatedAt:      time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
			Contacts: []CustomerContact{
				{ID: 1, FirstName: "John", LastName: "Doe", Title: "CEO", Email: "john@example.com", Phone: "123-456-7890", Role: "CEO"},
				{ID: 2, FirstName: "Jane", LastName: "Smith", Title: "CTO", Email: "jane@example.com", Phone: "098-765-4321", Role: "CTO"},
			},
		},
		{
			ID:             2,
			Name:           "TechStart Inc.",
			Address:        "456 Innovation Ave, Tech City, USA",
			BillingAddress: "456 Innovation Ave, Tech City, USA",
			PhoneNumber:    "555-987-6543",
			Email:          "contact@techstart.com",
			Owner:          "Jane Doe",
			Team:           []string{"Sales Team B", "Tech Support"},
			CreatedAt:      time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC),
			Contacts: []CustomerContact{
				{ID: 3, FirstName: "Alice", LastName: "Johnson", Title: "Product Manager", Email: "alice@example.com", Phone: "555-555-5555", Role: "Product Manager"},
			},
		},
		{
			ID:             3,
			Name:           "Global Solutions Ltd.",
			Address:        "789 World Plaza, Metropolis, USA",
			BillingAddress: "789 World Plaza, Metropolis, USA",
			PhoneNumber:    "555-246-8135",
			Email:          "info@globalsolutions.com",
			Owner:          "Bob Johnson",
			Team:           []string{"Enterprise Sales", "Customer Success"},
			CreatedAt:      time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC),
			Contacts: []CustomerContact{
				{ID: 4, FirstName: "Bob", LastName: "Williams", Title: "Sales Director", Email: "bob@example.com", Phone: "111-222-3333", Role: "Sales Director"},
				{ID: 5, FirstName: "Carol", LastName: "Brown", Title: "Operations Manager", Email: "carol@example.com", Phone: "444-444-4444", Role: "Operations Manager"},
			},
		},
	}
}

func SampleOpportunities() []Opportunity {
	return []Opportunity{
		{ID: 1, Name: "Enterprise Software Deal", Amount: 100000, Stage: "Negotiation", CustomerName: "Acme Corporation", CustomerID: 1},
		{ID: 2, Name: "Cloud Migration Project", Amount: 75000, Stage: "Proposal", CustomerName: "TechStart Inc.", CustomerID: 2},
		{ID: 3, Name: "Consulting Services", Amount: 50000, Stage: "Discovery", CustomerName: "Global Solutions Ltd.", CustomerID: 3},
	}
}

func SampleContacts() []Contact {
	return []Contact{
		{ID: 1, Name: "John Doe", Email: "john@example.com", Phone: "123-456-7890", Role: "CEO"},
		{ID: 2, Name: "Jane Smith", Email: "jane@example.com", Phone: "098-765-4321", Role: "CTO"},
		{ID: 3, Name: "Alice Johnson", Email: "alice@example.com", Phone: "555-555-5555", Role: "Product Manager"},
		{ID: 4, Name: "Bob Williams", Email: "bob@example.com", Phone: "111-222-3333", Role: "Sales Director"},
		{ID: 5, Name: "Carol Brown", Email: "carol@example.com", Phone: "444-444-4444", Role: "Operations Manager"},
	}
}
