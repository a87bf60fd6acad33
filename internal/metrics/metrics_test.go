package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordAuth(t *testing.T) {
	before := testutil.ToFloat64(AuthTotal.WithLabelValues("login", "success"))
	RecordAuth("login", "success")
	RecordAuth("login", "success")
	assert.Equal(t, before+2, testutil.ToFloat64(AuthTotal.WithLabelValues("login", "success")))
}

func TestRecordReuse(t *testing.T) {
	before := testutil.ToFloat64(SessionReuseTotal)
	RecordReuse()
	assert.Equal(t, before+1, testutil.ToFloat64(SessionReuseTotal))
}

func TestObservePaginate(t *testing.T) {
	ObservePaginate("videos", 25*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(PaginateDuration))
}
