package influxdb

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

func TestHeartbeatPoint(t *testing.T) {
	at := time.Unix(1760000000, 0)
	line := write.PointToLineProtocol(heartbeatPoint("d1", "org-1", HeartbeatMetrics{
		CPUUsage:    12.5,
		MemoryUsage: 40,
		StorageUsed: 2048,
	}, at), time.Second)

	for _, want := range []string{
		"display_heartbeat,",
		"display_id=d1",
		"organization_id=org-1",
		"cpu_usage=12.5",
		"memory_usage=40",
		"storage_used=2048i",
		" 1760000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
}

func TestImpressionPoint(t *testing.T) {
	line := write.PointToLineProtocol(impressionPoint("d1", "", "c-9", 30, time.Unix(0, 0)), time.Second)

	if strings.Contains(line, "organization_id") {
		t.Errorf("line protocol %q has an empty organization tag", line)
	}
	if !strings.Contains(line, `content_id="c-9"`) {
		t.Errorf("line protocol %q missing content_id field", line)
	}
	if strings.Contains(line, "content_id=c-9,") {
		t.Errorf("content_id must not be a tag: %q", line)
	}
}
