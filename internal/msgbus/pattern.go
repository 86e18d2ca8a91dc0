package msgbus

// IsMatching проверяет тему по шаблону: '*' - любая последовательность
// символов (в том числе пустая), '?' - ровно один символ.
func IsMatching(topic, pattern string) bool {
	t, p := 0, 0
	star, mark := -1, 0

	for t < len(topic) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == topic[t]):
			t++
			p++
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = t
			p++
		case star >= 0:
			// откат: '*' поглощает ещё один символ
			p = star + 1
			mark++
			t = mark
		default:
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// hasWildcard - содержит ли строка символы шаблона
func hasWildcard(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '*' || s[i] == '?' {
			return true
		}
	}
	return false
}
