// Package analytics turns raw metric events into gap-filled, time-bucketed
// series suitable for storing on chat documents and serving to the read side.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// minBuckets is the minimum number of values a series carries, one day of
// hour buckets.
const minBuckets = 24

// Event is a single metric observation.
type Event struct {
	TS    time.Time
	Value float64
}

// Filter selects the metric events feeding an aggregation.
type Filter struct {
	ChatID int64
	Type   string
	Since  time.Time
}

// Reducer determines how events within a bucket are combined and how the
// series summary is computed.
type Reducer int

const (
	// ReduceSum adds events per bucket and reports the total across the
	// series. Missing buckets count as zero.
	ReduceSum Reducer = iota

	// ReduceAverageDiff averages events per bucket and reports the
	// difference between the last and first observed bucket values.
	// Missing buckets carry no value.
	ReduceAverageDiff
)

// Series is a gap-filled, bucketed aggregation over metric events. Values
// holds one entry per bucket from Start through End; a nil entry marks a
// bucket with no observations under ReduceAverageDiff.
type Series struct {
	Start       time.Time  `bson:"start_date,omitempty"`
	End         time.Time  `bson:"end_date,omitempty"`
	BucketWidth int64      `bson:"bucket_seconds,omitempty"`
	Values      []*float64 `bson:"data,omitempty"`
	Sum         *float64   `bson:"sum,omitempty"`
	Diff        *float64   `bson:"diff,omitempty"`
}

// Source fetches the metric events matching a filter, ordered by timestamp
// ascending.
type Source interface {
	MetricEvents(ctx context.Context, filter Filter) ([]Event, error)
}

// Aggregator builds series from stored metric events.
type Aggregator struct{ source Source }

// NewAggregator creates an Aggregator reading events from the given source.
func NewAggregator(source Source) *Aggregator {
	return &Aggregator{source: source}
}

// Aggregate fetches the events matching filter and reduces them into a
// bucketed series. A filter matching no events yields a zero-value series.
func (a *Aggregator) Aggregate(ctx context.Context, filter Filter, reducer Reducer, width time.Duration) (Series, error) {
	events, err := a.source.MetricEvents(ctx, filter)
	if err != nil {
		return Series{}, fmt.Errorf("fetching metric events: %w", err)
	}
	return Reduce(events, reducer, width), nil
}

// Reduce buckets events on their truncated timestamps, reduces each bucket,
// fills gaps between the first and last observed bucket, and pads the series
// to at least a day of buckets.
func Reduce(events []Event, reducer Reducer, width time.Duration) Series {
	if len(events) == 0 {
		return Series{}
	}

	type bucket struct {
		ts    time.Time
		value float64
	}

	sums := make(map[time.Time]float64)
	counts := make(map[time.Time]int)
	for _, ev := range events {
		ts := ev.TS.UTC().Truncate(width)
		sums[ts] += ev.Value
		counts[ts]++
	}

	var buckets []bucket
	for ts, sum := range sums {
		value := sum
		if reducer == ReduceAverageDiff {
			value = sum / float64(counts[ts])
		}
		buckets = append(buckets, bucket{ts: ts, value: math.Round(value)})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].ts.Before(buckets[j].ts) })

	series := Series{
		Start:       buckets[0].ts,
		End:         buckets[len(buckets)-1].ts,
		BucketWidth: int64(width.Seconds()),
	}

	// Walk from the first to the last observed bucket, filling gaps with
	// the reducer's sentinel.
	i := 0
	for ts := series.Start; !ts.After(series.End); ts = ts.Add(width) {
		if i < len(buckets) && buckets[i].ts.Equal(ts) {
			v := buckets[i].value
			series.Values = append(series.Values, &v)
			i++
			continue
		}
		series.Values = append(series.Values, sentinel(reducer))
	}

	for len(series.Values) < minBuckets {
		series.Values = append(series.Values, sentinel(reducer))
	}

	switch reducer {
	case ReduceSum:
		var total float64
		for _, v := range series.Values {
			if v != nil {
				total += *v
			}
		}
		series.Sum = &total

	case ReduceAverageDiff:
		diff := buckets[len(buckets)-1].value - buckets[0].value
		series.Diff = &diff
	}

	return series
}

func sentinel(reducer Reducer) *float64 {
	if reducer == ReduceAverageDiff {
		return nil
	}
	zero := 0.0
	return &zero
}
