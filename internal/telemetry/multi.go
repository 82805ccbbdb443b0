package telemetry

import (
	"context"

	"github.com/roman-kulish/flow-navigation/internal/mission"
	"github.com/roman-kulish/flow-navigation/internal/nav"
	"github.com/roman-kulish/flow-navigation/internal/storage"
)

type multiRecorder []mission.Recorder

// Multi fans records out to all recorders in order.
func Multi(recorders ...mission.Recorder) mission.Recorder {
	return multiRecorder(recorders)
}

func (m multiRecorder) RecordPose(ctx context.Context, tick mission.PoseTick) {
	for _, r := range m {
		r.RecordPose(ctx, tick)
	}
}

func (m multiRecorder) RecordOutcome(ctx context.Context, o mission.Outcome) {
	for _, r := range m {
		r.RecordOutcome(ctx, o)
	}
}

func toPose(p nav.Pose) storage.Pose {
	return storage.Pose{
		XCm:      p.X,
		YCm:      p.Y,
		YawDeg:   p.YawDeg,
		HeightCm: p.HeightCm,
	}
}
