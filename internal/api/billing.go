package api

import (
	"net/http"
	"time"

	"github.com/hackgods/clinica/internal/billing"
)

const invoicesPageSize = 20

type ReceivablesResponse struct {
	Invoices    []billing.Receivable `json:"invoices"`
	Count       int                  `json:"count"`
	Outstanding string               `json:"outstanding"`
}

func listServicesHandler(svc BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		items, err := svc.ListCatalog(r.Context(), billing.CatalogFilter{
			Category: q.Get("category"),
			Search:   q.Get("search"),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, items)
	}
}

func createServiceHandler(svc BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ServiceRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}

		item, err := svc.CreateCatalogItem(r.Context(), billing.CatalogCommand{
			Code:        req.Code,
			Name:        req.Name,
			Description: req.Description,
			Price:       req.Price,
			Category:    req.Category,
			Actor:       actor(r),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, item)
	}
}

func createInvoiceHandler(svc BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateInvoiceRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}

		items := make([]billing.ItemInput, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, billing.ItemInput{
				ServiceID:   it.ServiceID,
				Description: it.Description,
				Quantity:    it.Quantity,
				UnitPrice:   it.UnitPrice,
			})
		}

		inv, err := svc.CreateInvoice(r.Context(), billing.CreateInvoiceCommand{
			PatientID:   req.PatientID,
			AttentionID: req.AttentionID,
			Items:       items,
			TaxRate:     req.TaxRate,
			Notes:       req.Notes,
			Actor:       actor(r),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, inv)
	}
}

func getInvoiceHandler(svc BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}

		inv, err := svc.GetInvoice(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, inv)
	}
}

func listInvoicesHandler(svc BillingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, err := pageQuery(r, invoicesPageSize, maxPageSize)
		if err != nil {
			respondError(w, r, err)
			return
		}
		f := billing.InvoiceFilter{Limit: pg.Limit, Offset: pg.Offset()}

		q := r.URL.Query()
		if f.PatientID, err = uuidQuery(r, "patientId"); err != nil {
			respondError(w, r, err)
			return
		}
		if raw := q.Get("status"); raw != "" {
			st := billing.DocumentStatus(raw)
			f.Status = &st
		}
		if raw := q.Get("paymentStatus"); raw != "" {
			ps := billing.PaymentStatus(raw)
			f.PaymentStatus = &ps
		}
		if f.From, err = timeQuery(r, "startDate", loc); err != nil {
			respondError(w, r, err)
			return
		}
		if f.To, err = timeQuery(r, "endDate", loc); err != nil {
			respondError(w, r, err)
			return
		}

		invoices, total, err := svc.ListInvoices(r.Context(), f)
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, PageResponse[billing.Invoice]{Data: invoices, Pagination: pg.Of(total)})
	}
}

func issueInvoiceHandler(svc BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}

		inv, err := svc.IssueInvoice(r.Context(), id, actor(r))
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, inv)
	}
}

func cancelInvoiceHandler(svc BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		var req ReasonRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}

		inv, err := svc.CancelInvoice(r.Context(), id, req.Reason, actor(r))
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, inv)
	}
}

func recordPaymentHandler(svc BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		var req PaymentRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}

		res, err := svc.RecordPayment(r.Context(), billing.PaymentCommand{
			InvoiceID: id,
			Amount:    req.Amount,
			Method:    req.Method,
			Reference: req.Reference,
			Notes:     req.Notes,
			Actor:     actor(r),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, res)
	}
}

func receivablesHandler(svc BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recv, err := svc.AccountsReceivable(r.Context())
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, ReceivablesResponse{
			Invoices:    recv,
			Count:       len(recv),
			Outstanding: billing.Outstanding(recv).StringFixed(2),
		})
	}
}
