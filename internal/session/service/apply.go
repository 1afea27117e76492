package service

import (
	metricsdomain "github.com/smallbiznis/vpnledger/internal/servermetrics/domain"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
)

// applySnapshot copies every metric the snapshot carries onto the session.
func applySnapshot(session *sessiondomain.Session, snapshot *metricsdomain.Snapshot) {
	if snapshot == nil {
		return
	}
	if snapshot.CPUUsage != nil {
		session.CPUUsage = copyFloat(snapshot.CPUUsage)
	}
	if snapshot.MemoryUsage != nil {
		session.MemoryUsage = copyFloat(snapshot.MemoryUsage)
	}
	if snapshot.NetworkSpeed != nil {
		session.NetworkSpeed = copyFloat(snapshot.NetworkSpeed)
	}
	if snapshot.LatencyMs != nil {
		session.LatencyMs = copyFloat(snapshot.LatencyMs)
	}
	if snapshot.ResponseTimeMs != nil {
		session.ResponseTimeMs = copyFloat(snapshot.ResponseTimeMs)
	}
}

// applyCounters adds the growth of the cumulative peer counters since the
// last observation. Returns whether any byte total changed.
func applyCounters(session *sessiondomain.Session, counter *metricsdomain.PeerCounter) bool {
	if counter == nil {
		return false
	}
	sent := counterDelta(session.CounterUploadBytes, counter.UploadBytes)
	received := counterDelta(session.CounterDownloadBytes, counter.DownloadBytes)
	session.BytesSent += sent
	session.BytesReceived += received
	session.CounterUploadBytes = counter.UploadBytes
	session.CounterDownloadBytes = counter.DownloadBytes
	recomputeTotal(session)
	return sent > 0 || received > 0
}

// counterDelta treats a counter lower than its baseline as a peer restart:
// the counter restarted from zero, so its whole value is new traffic.
func counterDelta(baseline, current int64) int64 {
	if current < 0 {
		return 0
	}
	if current >= baseline {
		return current - baseline
	}
	return current
}

// applyReported raises the byte totals to the edge-reported finals.
func applyReported(session *sessiondomain.Session, sent, received *int64) {
	if sent != nil && *sent > session.BytesSent {
		session.BytesSent = *sent
	}
	if received != nil && *received > session.BytesReceived {
		session.BytesReceived = *received
	}
	recomputeTotal(session)
}

func recomputeTotal(session *sessiondomain.Session) {
	total := session.BytesSent + session.BytesReceived
	if total > session.DataTransferredBytes {
		session.DataTransferredBytes = total
	}
}

func copyFloat(v *float64) *float64 {
	out := *v
	return &out
}
