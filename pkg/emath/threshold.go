package emath

// OtsuThreshold picks the threshold over a 256 bucket histogram of the
// grid (values are assumed to be on the [0,255] scale) that maximizes
// the between-class variance. Pixels > threshold are foreground.
func (fg *FloatGrid) OtsuThreshold() float64 {
	hist := [256]float64{}
	for _, v := range fg.values {
		hist[bucket(v)]++
	}

	total := float64(len(fg.values))
	if total == 0 {
		return 0
	}

	sumAll := 0.0
	for i, n := range hist {
		sumAll += float64(i) * n
	}

	best, bestVar := 0, -1.0
	wB, sumB := 0.0, 0.0
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * hist[t]
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > bestVar {
			bestVar = between
			best = t
		}
	}

	return float64(best)
}

// Binarize returns a mask of the values whose bucket exceeds thresh.
func (fg *FloatGrid) Binarize(thresh float64) Mask {
	m := NewMask(fg.Dx(), fg.Dy())
	for i, v := range fg.values {
		m.bits[i] = float64(bucket(v)) > thresh
	}
	return m
}

func bucket(v float64) int {
	b := int(v + 0.5)
	if b < 0 {
		return 0
	}
	if b > 255 {
		return 255
	}
	return b
}
