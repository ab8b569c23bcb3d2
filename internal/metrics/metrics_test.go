package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetricFamily は名前に一致するメトリクスファミリーを返す。
func findMetricFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelsOf はメトリクスのラベルをmapに変換する。
func labelsOf(m *dto.Metric) map[string]string {
	labels := make(map[string]string)
	for _, lp := range m.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	return labels
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordResolution_IncrementsCounterWithLabels は識別解決カウンタがステップ・判定別に増加することを検証する。
func TestRecordResolution_IncrementsCounterWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordResolution("local", "valid")
	c.RecordResolution("local", "valid")
	c.RecordResolution("local", "not_applicable")
	c.RecordResolution("external", "rejected")

	mf := findMetricFamily(t, reg, "mathviz_identity_resolution_total")
	if len(mf.GetMetric()) != 3 {
		t.Fatalf("expected 3 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		labels := labelsOf(m)
		val := m.GetCounter().GetValue()
		key := labels["step"] + "/" + labels["verdict"]
		switch key {
		case "local/valid":
			if val != 2 {
				t.Errorf("%s = %v, want 2", key, val)
			}
		case "local/not_applicable", "external/rejected":
			if val != 1 {
				t.Errorf("%s = %v, want 1", key, val)
			}
		default:
			t.Errorf("unexpected labels: %s", key)
		}
	}
}

// TestRecordOAuthCallback_IncrementsCounterWithLabels はOAuthコールバックカウンタが増加することを検証する。
func TestRecordOAuthCallback_IncrementsCounterWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordOAuthCallback("kakao", "success")
	c.RecordOAuthCallback("google", "oauth_exchange_error")
	c.RecordOAuthCallback("google", "oauth_exchange_error")

	mf := findMetricFamily(t, reg, "mathviz_oauth_callback_total")
	for _, m := range mf.GetMetric() {
		labels := labelsOf(m)
		val := m.GetCounter().GetValue()
		switch labels["provider"] {
		case "kakao":
			if labels["outcome"] != "success" || val != 1 {
				t.Errorf("kakao = %v %v, want success 1", labels["outcome"], val)
			}
		case "google":
			if labels["outcome"] != "oauth_exchange_error" || val != 2 {
				t.Errorf("google = %v %v, want oauth_exchange_error 2", labels["outcome"], val)
			}
		default:
			t.Errorf("unexpected provider label: %s", labels["provider"])
		}
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(401)

	mf := findMetricFamily(t, reg, "mathviz_http_requests_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		label := m.GetLabel()[0].GetValue()
		val := m.GetCounter().GetValue()
		switch label {
		case "200":
			if val != 2 {
				t.Errorf("http_requests_total{status_code=200} = %v, want 2", val)
			}
		case "401":
			if val != 1 {
				t.Errorf("http_requests_total{status_code=401} = %v, want 1", val)
			}
		default:
			t.Errorf("unexpected label value: %s", label)
		}
	}
}

// TestRecordRequestLatency_ObservesHistogram はレイテンシのヒストグラムに値が記録されることを検証する。
func TestRecordRequestLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequestLatency(100 * time.Millisecond)
	c.RecordRequestLatency(300 * time.Millisecond)

	mf := findMetricFamily(t, reg, "mathviz_http_request_duration_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if sum := h.GetSampleSum(); sum < 0.39 || sum > 0.41 {
		t.Errorf("sample sum = %v, want ~0.4", sum)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordResolution("local", "valid")
	c.RecordOAuthCallback("google", "success")
	c.RecordHTTPStatus(200)
	c.RecordRequestLatency(50 * time.Millisecond)

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"mathviz_identity_resolution_total",
		"mathviz_oauth_callback_total",
		"mathviz_http_requests_total",
		"mathviz_http_request_duration_seconds",
	}
	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordHTTPStatus(200)
	c2.RecordHTTPStatus(200)
	c2.RecordHTTPStatus(200)

	val1 := findMetricFamily(t, reg1, "mathviz_http_requests_total").GetMetric()[0].GetCounter().GetValue()
	val2 := findMetricFamily(t, reg2, "mathviz_http_requests_total").GetMetric()[0].GetCounter().GetValue()

	if val1 != 1 {
		t.Errorf("reg1 http_requests = %v, want 1", val1)
	}
	if val2 != 2 {
		t.Errorf("reg2 http_requests = %v, want 2", val2)
	}
}
