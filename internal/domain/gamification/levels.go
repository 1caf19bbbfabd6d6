package gamification

const (
	xpCurveBase = 50
	maxLevel    = 1000
)

// XPForLevel is the total XP needed to reach level: 50·L·(L−1).
func XPForLevel(level int64) int64 {
	if level <= 1 {
		return 0
	}
	return xpCurveBase * level * (level - 1)
}

func LevelForXP(xp int64) int64 {
	level := int64(1)
	for level < maxLevel && XPForLevel(level+1) <= xp {
		level++
	}
	return level
}

// ProgressToNext returns the XP earned inside the current level and the XP
// span of that level.
func ProgressToNext(xp int64) (into, span int64) {
	level := LevelForXP(xp)
	floor := XPForLevel(level)
	return xp - floor, XPForLevel(level+1) - floor
}
