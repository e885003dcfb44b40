package config

// Sizing policy for the in-memory tiers: split a memory budget between the
// strong resource cache and the buffer reuse pool in proportion to how many
// full display frames each tier should be able to hold.

const (
	bytesPerRGBAPixel = 4

	// Target tier capacities, in display-frame multiples.
	memoryCacheTargetFrames = 2
	poolTargetFrames        = 4

	// Never hand the two tiers more than this fraction of the budget.
	maxBudgetFraction = 0.4
)

// MemorySizer computes recommended byte sizes for the resource cache and the
// buffer pool from a total memory budget and a target frame size.
type MemorySizer struct {
	memoryCacheBytes int
	poolBytes        int
}

// NewMemorySizer derives tier sizes.  budgetBytes is the total memory the
// hosting process is willing to spend; frameWidth/frameHeight describe the
// typical full-size decoded image (display frame).
func NewMemorySizer(budgetBytes, frameWidth, frameHeight int) *MemorySizer {
	maxSize := int(float64(budgetBytes) * maxBudgetFraction)
	frameBytes := frameWidth * frameHeight * bytesPerRGBAPixel

	targetPoolSize := frameBytes * poolTargetFrames
	targetCacheSize := frameBytes * memoryCacheTargetFrames

	s := &MemorySizer{}
	if targetCacheSize+targetPoolSize <= maxSize {
		s.memoryCacheBytes = targetCacheSize
		s.poolBytes = targetPoolSize
	} else {
		// Budget-limited: divide maxSize in the same 2:4 proportion.
		part := int(float64(maxSize) / float64(memoryCacheTargetFrames+poolTargetFrames))
		s.memoryCacheBytes = part * memoryCacheTargetFrames
		s.poolBytes = part * poolTargetFrames
	}
	return s
}

// MemoryCacheBytes returns the recommended strong-cache size in bytes.
func (s *MemorySizer) MemoryCacheBytes() int { return s.memoryCacheBytes }

// PoolBytes returns the recommended reuse-pool size in bytes.
func (s *MemorySizer) PoolBytes() int { return s.poolBytes }

// Resolve fills in MemoryCacheBytes/PoolBytes on cfg when unset.
func Resolve(cfg Config) Config {
	if cfg.MemoryCacheBytes > 0 && cfg.PoolBytes > 0 {
		return cfg
	}
	frameW, frameH := cfg.FrameWidth, cfg.FrameHeight
	if frameW <= 0 || frameH <= 0 {
		frameW, frameH = 1920, 1080
	}
	sizer := NewMemorySizer(cfg.MemoryBudgetBytes, frameW, frameH)
	if cfg.MemoryCacheBytes == 0 {
		cfg.MemoryCacheBytes = sizer.MemoryCacheBytes()
	}
	if cfg.PoolBytes == 0 {
		cfg.PoolBytes = sizer.PoolBytes()
	}
	return cfg
}
