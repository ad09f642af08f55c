package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// WorkflowMetrics is returned by GET /v1/metrics/workflow.
type WorkflowMetrics struct {
	TransitionsSucceeded float64 `json:"transitionsSucceeded"`
	TransitionsFailed    float64 `json:"transitionsFailed"`
	Regressions          float64 `json:"regressions"`
	AutosaveWrites       float64 `json:"autosaveWrites"`
	AutosaveFailures     float64 `json:"autosaveFailures"`
	SyncRefreshes        float64 `json:"syncRefreshes"`
	SyncFailures         float64 `json:"syncFailures"`
	RegressionAlerts     float64 `json:"regressionAlerts"`
	AddressCacheHitRate  float64 `json:"addressCacheHitRate"`
	Period               string  `json:"period"`
}

// DashboardSummary is returned by GET /v1/dashboard.
type DashboardSummary struct {
	Total          int                `json:"total"`
	ByStatus       map[SaleStatus]int `json:"byStatus"`
	Returned       int                `json:"returned"`
	BySeller       []SellerTotal      `json:"bySeller"`
	PendingUsers   int                `json:"pendingUsers,omitempty"`
	ConfirmedUsers int                `json:"confirmedUsers,omitempty"`
}

// SellerTotal counts the visible sales of one seller.
type SellerTotal struct {
	SellerID   string `json:"sellerId"`
	SellerName string `json:"sellerName"`
	Total      int    `json:"total"`
	Finished   int    `json:"finished"`
}

// Address is the result of a CEP lookup.
type Address struct {
	CEP          string `json:"cep"`
	Street       string `json:"logradouro"`
	Complement   string `json:"complemento"`
	Neighborhood string `json:"bairro"`
	City         string `json:"localidade"`
	State        string `json:"uf"`
}
