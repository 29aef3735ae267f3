// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"strings"

	"github.com/thanhcuong1990/Snag-sub000/protocol"
)

// Bucket is a log category. Each device keeps one bounded buffer per
// bucket.
type Bucket string

const (
	// BucketRuntime holds JavaScript runtime output (tag
	// protocol.RuntimeLogTag).
	BucketRuntime Bucket = "runtime"
	// BucketApp holds the application's own logs: the device's most
	// frequent non-system tag, or a tag naming its bundle ID.
	BucketApp Bucket = "app"
	// BucketSystem holds operating system chatter.
	BucketSystem Bucket = "system"
	// BucketOther holds everything else.
	BucketOther Bucket = "other"
)

// Buckets lists every bucket in display order.
var Buckets = []Bucket{BucketRuntime, BucketApp, BucketSystem, BucketOther}

// ParseBucket validates a bucket name.
func ParseBucket(name string) (Bucket, error) {
	for _, bucket := range Buckets {
		if string(bucket) == name {
			return bucket, nil
		}
	}
	return "", fmt.Errorf("unknown log bucket %q", name)
}

// DefaultSystemTags are tags of Android and iOS system components whose
// output is filed under BucketSystem.
var DefaultSystemTags = []string{
	"ActivityManager",
	"ActivityTaskManager",
	"AudioManager",
	"BufferQueueProducer",
	"Choreographer",
	"ConnectivityManager",
	"EGL_emulation",
	"Finsky",
	"GoogleApiManager",
	"InputMethodManager",
	"InsetsController",
	"OpenGLRenderer",
	"PackageManager",
	"SurfaceFlinger",
	"System",
	"ViewRootImpl",
	"WindowManager",
	"Zygote",
	"art",
	"chatty",
	"libc",
	"nw_connection",
	"CFNetwork",
	"UIKitCore",
	"SpringBoard",
}

// tagStats tracks tag frequencies on one device to find the
// application's primary tag.
type tagStats struct {
	counts  map[string]int
	primary string
}

// observe records one occurrence of an application candidate tag.
func (s *tagStats) observe(tag string) {
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[tag]++
	if s.primary == "" || s.counts[tag] > s.counts[s.primary] {
		s.primary = tag
	}
}

func (c *Collector) classify(device *DeviceNode, entry *protocol.LogEntry) Bucket {
	tag := entry.Tag
	switch {
	case tag == protocol.RuntimeLogTag:
		return BucketRuntime
	case tag == "":
		return BucketOther
	case c.systemTags[tag]:
		return BucketSystem
	}

	device.tags.observe(tag)
	if tag == device.tags.primary {
		return BucketApp
	}
	if bundleID := device.bundleID(); bundleID != "" && strings.EqualFold(tag, bundleID) {
		return BucketApp
	}
	return BucketOther
}
