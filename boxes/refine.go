package boxes

import "github.com/chewxy/math32"

// Delta is a 4-component box regression target in
// (dy, dx, log(dh), log(dw)) order.
type Delta struct {
	DY, DX, DH, DW float32
}

// Refinement encodes the regression target that maps a proposal onto its
// assigned ground truth box:
//
//	dy = (gt_cy - p_cy) / p_h
//	dx = (gt_cx - p_cx) / p_w
//	dh = log(gt_h / p_h)
//	dw = log(gt_w / p_w)
func Refinement(proposal, gt Box) Delta {
	ph := proposal.Height()
	pw := proposal.Width()
	return Delta{
		DY: (gt.CenterY() - proposal.CenterY()) / ph,
		DX: (gt.CenterX() - proposal.CenterX()) / pw,
		DH: math32.Log(gt.Height() / ph),
		DW: math32.Log(gt.Width() / pw),
	}
}

// Normalize divides each delta component by its standard deviation so the
// regression loss operates at a stable scale.
func (d Delta) Normalize(stdDev [4]float32) Delta {
	return Delta{
		DY: d.DY / stdDev[0],
		DX: d.DX / stdDev[1],
		DH: d.DH / stdDev[2],
		DW: d.DW / stdDev[3],
	}
}
