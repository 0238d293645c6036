package invoice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/invoice-insight/internal/ai"
	"github.com/zombor/invoice-insight/internal/quota"
)

// uploadRequest builds a multipart upload of one file and optional fields
func uploadRequest(url, filename, contentType string, data []byte, fields map[string]string) *http.Request {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())

	for k, v := range fields {
		Expect(writer.WriteField(k, v)).To(Succeed())
	}
	Expect(writer.Close()).To(Succeed())

	req, err := http.NewRequest("POST", url, body)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeBody(resp *http.Response) map[string]any {
	defer resp.Body.Close()
	var out map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return out
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		analyzer    *mockAnalyzer
		assistant   *mockAssistant
		usage       *mockUsage
		config      ServerConfig
		server      *Server
		ghttpServer *ghttp.Server
	)

	// send routes exactly one request through the server under test
	send := func(req *http.Request) *http.Response {
		ghttpServer.AppendHandlers(server.ServeHTTP)
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	newRequest := func(method, path string, body io.Reader) *http.Request {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		return req
	}

	JustBeforeEach(func() {
		service := NewServiceWithDeps(db, analyzer, assistant, usage, storage,
			&mockIDGenerator{ids: []string{"inv-1"}},
			&mockTimeSource{now: time.Date(2024, 3, 21, 8, 0, 0, 0, time.UTC)})
		server = NewServerWithMux(service, config, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		DeferCleanup(ghttpServer.Close)
	})

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		analyzer = newMockAnalyzer()
		assistant = &mockAssistant{reply: "All good."}
		usage = &mockUsage{admission: quota.Admission{Count: 4, Limit: 20, Remaining: 16}}
		config = ServerConfig{}
	})

	Describe("POST /api/invoices", func() {
		It("should analyze and store the upload", func() {
			resp := send(uploadRequest(ghttpServer.URL()+"/api/invoices", "scan.png", "image/png", []byte("png"), map[string]string{"model": "lite"}))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			body := decodeBody(resp)
			Expect(body["id"]).To(Equal("inv-1"))
			Expect(body["userId"]).To(Equal(AnonymousUser))
			Expect(body["extractedData"]).To(HaveKeyWithValue("vendor", "Acme Supplies"))
			Expect(analyzer.choice).To(Equal("lite"))
			Expect(analyzer.mediaType).To(Equal("image/png"))
		})

		It("should infer the content type from the extension", func() {
			resp := send(uploadRequest(ghttpServer.URL()+"/api/invoices", "invoice.PDF", "application/octet-stream", []byte("%PDF"), nil))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(analyzer.mediaType).To(Equal("application/pdf"))
		})

		It("should reject requests without a file", func() {
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			Expect(writer.WriteField("model", "lite")).To(Succeed())
			Expect(writer.Close()).To(Succeed())
			req := newRequest("POST", "/api/invoices", body)
			req.Header.Set("Content-Type", writer.FormDataContentType())

			resp := send(req)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeBody(resp)).To(HaveKeyWithValue("error", "No file uploaded"))
			Expect(analyzer.calls).To(BeZero())
		})

		It("should reject non-multipart bodies", func() {
			req := newRequest("POST", "/api/invoices", bytes.NewBufferString("nope"))
			req.Header.Set("Content-Type", "text/plain")
			resp := send(req)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		When("the upload is larger than the limit", func() {
			BeforeEach(func() {
				config.MaxUploadSize = 16
			})

			It("should reject it without calling the model", func() {
				resp := send(uploadRequest(ghttpServer.URL()+"/api/invoices", "big.png", "image/png", bytes.Repeat([]byte("x"), 64), nil))
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
				Expect(analyzer.calls).To(BeZero())
			})
		})

		DescribeTable("mapping analysis errors",
			func(analysisErr error, status int, expected map[string]any) {
				analyzer.err = analysisErr
				resp := send(uploadRequest(ghttpServer.URL()+"/api/invoices", "scan.png", "image/png", []byte("png"), nil))
				Expect(resp.StatusCode).To(Equal(status))
				body := decodeBody(resp)
				for k, v := range expected {
					Expect(body).To(HaveKeyWithValue(k, v))
				}
				Expect(db.invoices).To(BeEmpty())
			},
			Entry("local quota",
				&quota.ExceededError{Source: quota.SourceLocal, Count: 21, Limit: 20},
				http.StatusTooManyRequests,
				map[string]any{"code": "QUOTA_EXCEEDED", "source": "local"}),
			Entry("provider quota",
				&quota.ExceededError{Source: quota.SourceProvider, Err: errors.New("Resource exhausted")},
				http.StatusTooManyRequests,
				map[string]any{"code": "QUOTA_EXCEEDED", "source": "provider"}),
			Entry("store unavailable",
				fmt.Errorf("%w: increment: %w", quota.ErrStoreUnavailable, errors.New("connection refused")),
				http.StatusServiceUnavailable,
				map[string]any{"error": "Service temporarily unavailable"}),
			Entry("processing failure",
				fmt.Errorf("%w: %w", ai.ErrProcessingFailed, &ai.SchemaError{Reason: "not json"}),
				http.StatusInternalServerError,
				map[string]any{"error": "Failed to process invoice"}),
		)
	})

	Describe("GET /api/invoices", func() {
		BeforeEach(func() {
			db.invoices["inv-1"] = &Invoice{ID: "inv-1", UserID: AnonymousUser}
			db.invoices["inv-2"] = &Invoice{ID: "inv-2", UserID: "bob"}
		})

		It("should list the caller's invoices", func() {
			resp := send(newRequest("GET", "/api/invoices", nil))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var invoices []Invoice
			Expect(json.NewDecoder(resp.Body).Decode(&invoices)).To(Succeed())
			Expect(invoices).To(HaveLen(1))
			Expect(invoices[0].ID).To(Equal("inv-1"))
		})

		It("should return 500 when listing fails", func() {
			db.listErr = errors.New("db closed")
			resp := send(newRequest("GET", "/api/invoices", nil))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("GET /api/invoices/{id}", func() {
		BeforeEach(func() {
			db.invoices["inv-1"] = &Invoice{ID: "inv-1", UserID: AnonymousUser, StoredFile: "inv-1_scan.png", ContentType: "image/png"}
			storage.files["inv-1_scan.png"] = []byte("png-bytes")
		})

		It("should return the invoice", func() {
			resp := send(newRequest("GET", "/api/invoices/inv-1", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeBody(resp)).To(HaveKeyWithValue("id", "inv-1"))
		})

		It("should return 404 for unknown invoices", func() {
			resp := send(newRequest("GET", "/api/invoices/missing", nil))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should return 500 when the invoice cannot be read", func() {
			db.getErr = errors.New("unexpected end of JSON input")
			resp := send(newRequest("GET", "/api/invoices/inv-1", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(decodeBody(resp)).To(HaveKeyWithValue("error", "Error getting invoice"))
		})

		It("should return 404 when the stored file is gone", func() {
			delete(storage.files, "inv-1_scan.png")
			resp := send(newRequest("GET", "/api/invoices/inv-1/file", nil))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should return 500 when the stored file cannot be read", func() {
			storage.getErr = errors.New("permission denied")
			resp := send(newRequest("GET", "/api/invoices/inv-1/file", nil))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		})

		It("should serve the original file", func() {
			resp := send(newRequest("GET", "/api/invoices/inv-1/file", nil))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("png-bytes")))
		})
	})

	Describe("DELETE /api/invoices/{id}", func() {
		BeforeEach(func() {
			db.invoices["inv-1"] = &Invoice{ID: "inv-1", UserID: AnonymousUser, StoredFile: "inv-1_scan.png"}
		})

		It("should delete the invoice", func() {
			resp := send(newRequest("DELETE", "/api/invoices/inv-1", nil))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.invoices).To(BeEmpty())
		})

		It("should return 404 for unknown invoices", func() {
			resp := send(newRequest("DELETE", "/api/invoices/missing", nil))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /api/chat", func() {
		It("should return the assistant's reply", func() {
			resp := send(newRequest("POST", "/api/chat", bytes.NewBufferString(`{"message":"Any risky invoices?","model":"lite"}`)))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeBody(resp)).To(Equal(map[string]any{"reply": "All good."}))
			Expect(assistant.choice).To(Equal("lite"))
		})

		It("should return the degraded reply with 200", func() {
			assistant.reply = ai.DegradedReply
			resp := send(newRequest("POST", "/api/chat", bytes.NewBufferString(`{"message":"hi"}`)))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeBody(resp)).To(HaveKeyWithValue("reply", ai.DegradedReply))
		})

		It("should return 429 when the quota is exhausted", func() {
			assistant.err = &quota.ExceededError{Source: quota.SourceLocal, Count: 21, Limit: 20}
			resp := send(newRequest("POST", "/api/chat", bytes.NewBufferString(`{"message":"hi"}`)))
			Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))
			Expect(decodeBody(resp)).To(HaveKeyWithValue("source", "local"))
		})

		DescribeTable("rejecting bad bodies",
			func(body string) {
				resp := send(newRequest("POST", "/api/chat", bytes.NewBufferString(body)))
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(assistant.message).To(BeEmpty())
			},
			Entry("invalid json", `{"message":`),
			Entry("missing message", `{"model":"lite"}`),
			Entry("blank message", `{"message":"   "}`),
		)
	})

	Describe("GET /api/export", func() {
		BeforeEach(func() {
			db.invoices["inv-1"] = &Invoice{
				ID:            "inv-1",
				UserID:        AnonymousUser,
				ExtractedData: ai.ExtractedData{Vendor: "Acme", Amount: 12, Date: "2024-03-20", Currency: "USD"},
			}
		})

		It("should download a CSV file", func() {
			resp := send(newRequest("GET", "/api/export", nil))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/csv"))
			Expect(resp.Header.Get("Content-Disposition")).To(Equal(`attachment; filename="invoices_export.csv"`))

			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(HavePrefix("Date,Vendor,Amount,Currency,Category,Risk Score,Compliance Status\n"))
			Expect(string(data)).To(ContainSubstring("2024-03-20,Acme,12,USD,Uncategorized,0,"))
		})
	})

	Describe("GET /api/usage", func() {
		It("should report today's budget", func() {
			resp := send(newRequest("GET", "/api/usage", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeBody(resp)).To(Equal(map[string]any{
				"date":      "2024-03-21",
				"count":     float64(4),
				"limit":     float64(20),
				"remaining": float64(16),
			}))
		})

		It("should return 503 when the ledger is unreachable", func() {
			usage.err = fmt.Errorf("%w: usage: %w", quota.ErrStoreUnavailable, errors.New("timeout"))
			resp := send(newRequest("GET", "/api/usage", nil))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			config.BasicAuth = BasicAuth{Username: "alice", Password: "secret"}
			db.invoices["inv-1"] = &Invoice{ID: "inv-1", UserID: "alice"}
			db.invoices["inv-2"] = &Invoice{ID: "inv-2", UserID: AnonymousUser}
		})

		It("should reject requests without credentials", func() {
			resp := send(newRequest("GET", "/api/invoices", nil))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should reject wrong credentials", func() {
			req := newRequest("GET", "/api/invoices", nil)
			req.SetBasicAuth("alice", "wrong")
			resp := send(req)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should scope data to the authenticated user", func() {
			req := newRequest("GET", "/api/invoices", nil)
			req.SetBasicAuth("alice", "secret")
			resp := send(req)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var invoices []Invoice
			Expect(json.NewDecoder(resp.Body).Decode(&invoices)).To(Succeed())
			Expect(invoices).To(HaveLen(1))
			Expect(invoices[0].ID).To(Equal("inv-1"))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := send(newRequest("OPTIONS", "/api/invoices", nil))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("GET /metrics", func() {
		When("a metrics handler is configured", func() {
			BeforeEach(func() {
				config.Metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					io.WriteString(w, "invoice_insight_ai_requests_total 1\n")
				})
			})

			It("should serve it", func() {
				resp := send(newRequest("GET", "/metrics", nil))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				data, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(ContainSubstring("invoice_insight_ai_requests_total"))
			})
		})

		It("should not be routed otherwise", func() {
			resp := send(newRequest("GET", "/metrics", nil))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})
