// Command selcom-mock stands in for the Selcom checkout API during local runs.
// It verifies request digests and can post IPN callbacks back to the shop.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"selcom-gateway/internal/signature"
)

const (
	contentType = "application/json"

	modeSuccess = "success"
	modeFail    = "fail"
	modeRandom  = "random"
	modePending = "pending"
	modeDelayed = "delayed"

	errorRate = 0.5
)

type response struct {
	Result        string `json:"result"`
	ResultCode    string `json:"resultcode"`
	Message       string `json:"message"`
	Reference     string `json:"reference,omitempty"`
	TransID       string `json:"transid,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
}

type mock struct {
	secret string
	mode   string
	logger *slog.Logger
	client *http.Client
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "selcom-mock")

	m := &mock{
		secret: getenv("SELCOM_API_SECRET", "secret"),
		mode:   getenv("MOCK_MODE", modeSuccess),
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	addr := ":" + getenv("MOCK_PORT", "8085")
	logger.Info("Selcom mock listening", "addr", addr, "mode", m.mode)
	if err := http.ListenAndServe(addr, loggingMiddleware(logger, m.routes())); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (m *mock) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/checkout/create-order-minimal", m.createOrder)
	mux.HandleFunc("POST /v1/checkout/wallet-payment", m.walletPayment)
	return mux
}

func (m *mock) createOrder(w http.ResponseWriter, r *http.Request) {
	values, ok := m.verify(w, r)
	if !ok {
		return
	}

	if m.failing() {
		writeJSON(w, http.StatusOK, response{Result: "FAIL", ResultCode: "403", Message: "Invalid vendor"})
		return
	}

	writeJSON(w, http.StatusOK, response{
		Result:     "SUCCESS",
		ResultCode: "000",
		Message:    "Order creation successful",
		Reference:  values["order_id"],
	})
}

func (m *mock) walletPayment(w http.ResponseWriter, r *http.Request) {
	values, ok := m.verify(w, r)
	if !ok {
		return
	}

	if m.mode == modeDelayed {
		time.Sleep(time.Duration(3+rand.IntN(6)) * time.Second)
	}

	if m.failing() {
		writeJSON(w, http.StatusOK, response{Result: "FAIL", ResultCode: "403", Message: "Insufficient balance"})
		return
	}

	transID := "SEL" + uuid.NewString()[:8]
	status := "COMPLETE"
	if m.mode == modePending {
		status = "PENDING"
		if webhook := values["webhook"]; webhook != "" {
			go m.notify(webhook, values["order_id"], transID)
		}
	}

	writeJSON(w, http.StatusOK, response{
		Result:        "SUCCESS",
		ResultCode:    "000",
		Message:       "Push sent to customer",
		Reference:     values["order_id"],
		TransID:       transID,
		PaymentStatus: status,
	})
}

func (m *mock) failing() bool {
	switch m.mode {
	case modeFail:
		return true
	case modeRandom:
		return rand.Float64() < errorRate
	default:
		return false
	}
}

// verify checks the digest headers and returns the decoded body as strings.
func (m *mock) verify(w http.ResponseWriter, r *http.Request) (map[string]string, bool) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Result: "FAIL", ResultCode: "400", Message: "Malformed request body"})
		return nil, false
	}

	values := make(map[string]string, len(body))
	for k, v := range body {
		values[k] = fmt.Sprint(v)
	}

	fields := signature.ParseSignedFields(r.Header.Get("Signed-Fields"))
	if !signature.Verify(r.Header.Get("Digest"), r.Header.Get("Timestamp"), fields, values, m.secret) {
		m.logger.Warn("Digest mismatch", "path", r.URL.Path, "signedFields", fields)
		writeJSON(w, http.StatusUnauthorized, response{Result: "FAIL", ResultCode: "401", Message: "Invalid digest"})
		return nil, false
	}
	return values, true
}

func (m *mock) notify(url, orderID, transID string) {
	time.Sleep(2 * time.Second)

	body, _ := json.Marshal(map[string]string{
		"result":         "SUCCESS",
		"resultcode":     "000",
		"utilityref":     orderID,
		"transid":        transID,
		"payment_status": "COMPLETED",
	})

	resp, err := m.client.Post(url, contentType, bytes.NewReader(body))
	if err != nil {
		m.logger.Error("Error delivering callback", "url", url, "error", err)
		return
	}
	defer resp.Body.Close()
	m.logger.Info("Callback delivered", "url", url, "status", resp.Status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
