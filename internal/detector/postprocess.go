package detector

import (
	"image"
	"math"
	"sort"
)

// box is a candidate in source pixel coordinates.
type box struct {
	x1, y1, x2, y2 float64
	classID        int
	score          float32
}

func (b box) area() float64 {
	return math.Max(0, b.x2-b.x1) * math.Max(0, b.y2-b.y1)
}

func (b box) rect() image.Rectangle {
	return image.Rect(
		int(math.Round(b.x1)), int(math.Round(b.y1)),
		int(math.Round(b.x2)), int(math.Round(b.y2)),
	)
}

// processOutput decodes a [4+numClasses, anchors] tensor into boxes that pass
// the confidence threshold, mapped back through the letterbox and clipped to
// the source bounds.
func processOutput(output []float32, numClasses, anchors int, lb letterbox, confThreshold float32) []box {
	var boxes []box

	for i := 0; i < anchors; i++ {
		classID, prob := -1, float32(0)
		for j := 0; j < numClasses; j++ {
			if curr := output[anchors*(j+4)+i]; curr > prob {
				prob = curr
				classID = j
			}
		}
		if classID < 0 || prob <= confThreshold {
			continue
		}
		if prob > 1 {
			prob = 1
		}

		xc := float64(output[i])
		yc := float64(output[anchors+i])
		w := float64(output[2*anchors+i])
		h := float64(output[3*anchors+i])

		x1, y1 := lb.toSource(xc-w/2, yc-h/2)
		x2, y2 := lb.toSource(xc+w/2, yc+h/2)
		b := box{
			x1:      clampFloat(x1, float64(lb.src.Min.X), float64(lb.src.Max.X)),
			y1:      clampFloat(y1, float64(lb.src.Min.Y), float64(lb.src.Max.Y)),
			x2:      clampFloat(x2, float64(lb.src.Min.X), float64(lb.src.Max.X)),
			y2:      clampFloat(y2, float64(lb.src.Min.Y), float64(lb.src.Max.Y)),
			classID: classID,
			score:   prob,
		}
		if b.area() <= 0 {
			continue
		}
		boxes = append(boxes, b)
	}

	return boxes
}

// nonMaxSuppression keeps the highest scoring box of every overlapping group
// of the same class, in descending score order, at most maxDet boxes.
func nonMaxSuppression(boxes []box, iouThreshold float64, maxDet int) []box {
	sort.SliceStable(boxes, func(i, j int) bool {
		return boxes[i].score > boxes[j].score
	})

	var kept []box
	suppressed := make([]bool, len(boxes))
	for i := 0; i < len(boxes); i++ {
		if suppressed[i] {
			continue
		}
		kept = append(kept, boxes[i])
		if maxDet > 0 && len(kept) >= maxDet {
			break
		}
		for j := i + 1; j < len(boxes); j++ {
			if suppressed[j] || boxes[j].classID != boxes[i].classID {
				continue
			}
			if calculateIoU(boxes[i], boxes[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func calculateIoU(a, b box) float64 {
	x1 := math.Max(a.x1, b.x1)
	y1 := math.Max(a.y1, b.y1)
	x2 := math.Min(a.x2, b.x2)
	y2 := math.Min(a.y2, b.y2)

	intersection := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	union := a.area() + b.area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
