package supabase

import (
	"context"
	"net/url"

	"github.com/boddenberg/sales-intake-go/internal/domain"

	"github.com/google/uuid"
)

// ============================================================
// Sales store
// ============================================================

const salesTable = "sales"

func saleRow(sale *domain.Sale) map[string]any {
	row := map[string]any{
		"seller_id":      sale.SellerID,
		"seller_name":    sale.SellerName,
		"customer_data":  sale.CustomerData,
		"status":         sale.Status,
		"status_history": sale.StatusHistory,
		"return_reason":  sale.ReturnReason,
	}
	if !sale.CreatedAt.IsZero() {
		row["created_at"] = sale.CreatedAt
	}
	if sale.ID != "" {
		row["id"] = sale.ID
	}
	return row
}

func saleFieldsRow(fields domain.SaleFields) map[string]any {
	row := map[string]any{}
	if fields.SellerName != nil {
		row["seller_name"] = *fields.SellerName
	}
	if fields.CustomerData != nil {
		row["customer_data"] = fields.CustomerData
	}
	if fields.Status != nil {
		row["status"] = *fields.Status
	}
	if fields.StatusHistory != nil {
		row["status_history"] = fields.StatusHistory
	}
	if fields.ReturnReason != nil {
		if *fields.ReturnReason == "" {
			row["return_reason"] = nil
		} else {
			row["return_reason"] = *fields.ReturnReason
		}
	}
	return row
}

// CreateSale inserts a new sale and returns its id. The id is chosen here
// when the caller left it empty, so retries resend the same key and the
// store keeps a single row.
func (c *Client) CreateSale(ctx context.Context, sale *domain.Sale) (string, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateSale")
	defer span.End()

	id := sale.ID
	if id == "" {
		id = uuid.NewString()
	}
	row := saleRow(sale)
	row["id"] = id

	err := c.call(ctx, "create_sale", func() error {
		body, err := c.create(ctx, salesTable, "id", row)
		if err != nil {
			return err
		}
		// An empty body means an earlier attempt already stored the row.
		if _, err := decodeRows[domain.Sale](body, "sale"); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return id, nil
}

// GetSale fetches one sale by id.
func (c *Client) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetSale")
	defer span.End()

	var sale *domain.Sale
	err := c.call(ctx, "get_sale", func() error {
		body, err := c.get(ctx, eq(salesTable, "id", id)+"&select=*")
		if err != nil {
			return err
		}
		rows, err := decodeRows[domain.Sale](body, "sale")
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "sale", ID: id}
		}
		sale = &rows[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// UpdateSale writes the set fields of one sale.
func (c *Client) UpdateSale(ctx context.Context, id string, fields domain.SaleFields) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateSale")
	defer span.End()

	row := saleFieldsRow(fields)
	if len(row) == 0 {
		return nil
	}

	err := c.call(ctx, "update_sale", func() error {
		body, err := c.patch(ctx, eq(salesTable, "id", id), row)
		if err != nil {
			return err
		}
		if emptyRows(body) {
			return &domain.ErrNotFound{Resource: "sale", ID: id}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// DeleteSale removes one sale.
func (c *Client) DeleteSale(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteSale")
	defer span.End()

	return c.call(ctx, "delete_sale", func() error {
		body, err := c.remove(ctx, eq(salesTable, "id", id))
		if err != nil {
			return err
		}
		if emptyRows(body) {
			return &domain.ErrNotFound{Resource: "sale", ID: id}
		}
		return nil
	})
}

// ListSales returns the sales matching filter, newest first.
func (c *Client) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListSales")
	defer span.End()

	path := salesTable + "?select=*&order=created_at.desc"
	if filter.OwnerID != "" {
		path += "&seller_id=eq." + url.QueryEscape(filter.OwnerID)
	}
	if filter.StatusNot != "" {
		path += "&status=neq." + url.QueryEscape(string(filter.StatusNot))
	}

	var sales []domain.Sale
	err := c.call(ctx, "list_sales", func() error {
		body, err := c.get(ctx, path)
		if err != nil {
			return err
		}
		rows, err := decodeRows[domain.Sale](body, "sales")
		if err != nil {
			return err
		}
		sales = rows
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if sales == nil {
		sales = []domain.Sale{}
	}
	return sales, nil
}
