package master

// Health classifies one exchange by its working counter.
type Health int

const (
	Ok Health = iota
	// some slaves did not process their part
	Degraded
	// nothing came back
	Failed
)

func (h Health) String() string {
	switch h {
	case Ok:
		return "ok"
	case Degraded:
		return "degraded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

func Classify(observed, expected int) Health {
	switch {
	case observed <= 0:
		return Failed
	case observed >= expected:
		return Ok
	}
	return Degraded
}
