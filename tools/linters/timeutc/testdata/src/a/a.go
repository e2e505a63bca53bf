package a

import "time"

func scheduleFor() {
	_ = time.Now() // want "time.Now\\(\\) should be followed by .UTC\\(\\) for timezone consistency"
}

func scheduleForNormalized() {
	_ = time.Now().UTC()
}

func dedupBucket() {
	now := time.Now() // want "time.Now\\(\\) should be followed by .UTC\\(\\) for timezone consistency"
	_ = now
}

func dedupBucketNormalized() {
	now := time.Now().UTC()
	_ = now
}

func formattedChain() {
	_ = time.Now().UTC().Format(time.RFC3339)
}

func suppressedGeneral() {
	//nolint
	_ = time.Now()
}

func suppressedSpecific() {
	_ = time.Now() //nolint:timeutc
}

func suppressedForAnotherLinter() {
	_ = time.Now() //nolint:otherlinter // want "time.Now\\(\\) should be followed by .UTC\\(\\) for timezone consistency"
}
