package pd_test

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mattjoyce/conductor/internal/pd"
	"github.com/mattjoyce/conductor/internal/tracing"
)

func TestDispatchSpanRecordsPlacement(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	require.NoError(t, tracing.InitWithExporter("conductor-test", "test", exporter))

	env := newTestEnv(t)
	env.node(t, "node-1", nil)
	env.beat(t, "ee-1", "node-1", 1)
	env.agent.EXPECT().Dispatch(gomock.Any(), "ee-1", "traced", 0, gomock.Any()).Return(nil)

	_, err := env.core.DispatchProcess(context.Background(), pd.DispatchRequest{EPID: "traced"})
	require.NoError(t, err)

	var attrs map[attribute.Key]string
	for _, s := range exporter.GetSpans() {
		if s.Name != "pd.DispatchProcess" {
			continue
		}
		attrs = make(map[attribute.Key]string)
		for _, kv := range s.Attributes {
			attrs[kv.Key] = kv.Value.AsString()
		}
	}
	require.NotNil(t, attrs, "no pd.DispatchProcess span exported")
	assert.Equal(t, "traced", attrs["epid"])
	assert.Equal(t, "PENDING", attrs["state"])
	assert.Equal(t, "ee-1", attrs["ee_id"])
}
