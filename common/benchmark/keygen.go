package benchmark

import (
	"fmt"
	"math"
	mrand "math/rand"
	"sync/atomic"
)

// KeyDistribution defines how keys are accessed.
type KeyDistribution string

const (
	DistUniform    KeyDistribution = "uniform"    // all keys equally likely
	DistZipfian    KeyDistribution = "zipfian"    // 80/20 rule (realistic)
	DistSequential KeyDistribution = "sequential" // sequential access
	DistLatest     KeyDistribution = "latest"     // recent keys (time-series)
)

// KeyGenerator generates string keys according to a distribution.
type KeyGenerator struct {
	numKeys      int
	keySize      int
	distribution KeyDistribution
	rng          *mrand.Rand

	zipf *mrand.Zipf

	seqCounter atomic.Int64
}

func NewKeyGenerator(numKeys, keySize int, distribution KeyDistribution, seed int64) *KeyGenerator {
	rng := mrand.New(mrand.NewSource(seed))

	kg := &KeyGenerator{
		numKeys:      numKeys,
		keySize:      keySize,
		distribution: distribution,
		rng:          rng,
	}

	if distribution == DistZipfian {
		kg.zipf = mrand.NewZipf(rng, 1.1, 1, uint64(numKeys))
	}

	return kg
}

func (kg *KeyGenerator) NextKey() string {
	var keyNum int

	switch kg.distribution {
	case DistUniform:
		keyNum = kg.rng.Intn(kg.numKeys)

	case DistZipfian:
		keyNum = int(kg.zipf.Uint64())

	case DistSequential:
		keyNum = int(kg.seqCounter.Add(1) % int64(kg.numKeys))

	case DistLatest:
		rangeSize := kg.numKeys / 10
		if rangeSize < 100 {
			rangeSize = 100
		}
		offset := int(math.Abs(kg.rng.NormFloat64()) * float64(rangeSize))
		keyNum = kg.numKeys - 1 - offset
		if keyNum < 0 {
			keyNum = 0
		}

	default:
		keyNum = kg.rng.Intn(kg.numKeys)
	}

	return kg.formatKey(keyNum)
}

func (kg *KeyGenerator) GenerateSequential(n int) string {
	return kg.formatKey(n)
}

func (kg *KeyGenerator) formatKey(n int) string {
	key := fmt.Sprintf("user%010d", n)
	if len(key) < kg.keySize {
		key += fmt.Sprintf("%0*d", kg.keySize-len(key), n)
	}
	if len(key) > kg.keySize {
		key = key[:kg.keySize]
	}
	return key
}
