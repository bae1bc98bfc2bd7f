// Package matka holds the fixed rules of the game: the valid panna table, number formats,
// result generation and wager evaluation.
package matka

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/park285/matka-round-server/internal/domain"
)

// chart is the traditional panna chart: every valid three digit combination, grouped by ank
// (digit sum mod 10).
var chart = [10][]string{
	0: {"127", "136", "145", "190", "235", "280", "370", "389", "460", "479", "569", "578", "118", "226", "244", "299", "334", "488", "668", "677", "000", "550"},
	1: {"137", "128", "146", "236", "245", "290", "380", "470", "489", "560", "678", "579", "119", "155", "227", "335", "344", "399", "588", "669", "777", "100"},
	2: {"129", "138", "147", "156", "237", "246", "345", "390", "480", "570", "589", "679", "110", "228", "255", "336", "499", "660", "688", "778", "200", "444"},
	3: {"120", "139", "148", "157", "238", "247", "256", "346", "490", "580", "670", "689", "166", "229", "337", "355", "445", "599", "779", "788", "300", "111"},
	4: {"130", "149", "158", "167", "239", "248", "257", "347", "356", "590", "680", "789", "112", "220", "266", "338", "446", "455", "699", "770", "400", "888"},
	5: {"140", "159", "168", "230", "249", "258", "267", "348", "357", "456", "690", "780", "113", "122", "177", "339", "366", "447", "799", "889", "500", "555"},
	6: {"123", "150", "169", "178", "240", "259", "268", "349", "358", "367", "457", "790", "114", "277", "330", "448", "466", "556", "880", "899", "600", "222"},
	7: {"124", "160", "179", "250", "269", "278", "340", "359", "368", "458", "467", "890", "115", "133", "188", "223", "377", "449", "557", "566", "700", "999"},
	8: {"125", "134", "170", "189", "260", "279", "350", "369", "378", "459", "468", "567", "116", "224", "233", "288", "440", "477", "558", "990", "800", "666"},
	9: {"126", "135", "180", "234", "270", "289", "360", "379", "450", "469", "478", "568", "117", "144", "199", "225", "388", "559", "577", "667", "900", "333"},
}

// byLeading partitions the chart by leading digit; lookups and result draws go through it.
var byLeading = func() [10][]string {
	var out [10][]string
	for _, row := range chart {
		for _, p := range row {
			d := int(p[0] - '0')
			out[d] = append(out[d], p)
		}
	}
	return out
}()

// PannaClass is the repeated-digit pattern of a panna.
type PannaClass int

const (
	ClassInvalid PannaClass = iota
	ClassSingle             // three distinct digits
	ClassDouble             // exactly two distinct digits
	ClassTriple             // one digit repeated three times
)

// IsDigits reports whether s is exactly n ASCII digits.
func IsDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Classify returns the repeated-digit class of a three digit string.
func Classify(p string) PannaClass {
	if !IsDigits(p, 3) {
		return ClassInvalid
	}
	switch {
	case p[0] == p[1] && p[1] == p[2]:
		return ClassTriple
	case p[0] == p[1] || p[1] == p[2] || p[0] == p[2]:
		return ClassDouble
	default:
		return ClassSingle
	}
}

// IsValidPanna reports whether p is listed under its leading digit.
func IsValidPanna(p string) bool {
	if !IsDigits(p, 3) {
		return false
	}
	for _, v := range byLeading[p[0]-'0'] {
		if v == p {
			return true
		}
	}
	return false
}

// Bucket returns a copy of the valid pannas starting with digit.
func Bucket(digit int) []string {
	if digit < 0 || digit > 9 {
		return nil
	}
	return append([]string(nil), byLeading[digit]...)
}

// Ank is the digit sum of p modulo 10, or -1 when p is not numeric.
func Ank(p string) int {
	sum := 0
	for i := 0; i < len(p); i++ {
		if p[i] < '0' || p[i] > '9' {
			return -1
		}
		sum += int(p[i] - '0')
	}
	return sum % 10
}

// Size is the number of valid pannas.
func Size() int {
	n := 0
	for _, row := range chart {
		n += len(row)
	}
	return n
}

func classFor(kind domain.BetKind) PannaClass {
	switch kind {
	case domain.BetSinglePanna:
		return ClassSingle
	case domain.BetDoublePanna:
		return ClassDouble
	case domain.BetTriplePanna:
		return ClassTriple
	default:
		return ClassInvalid
	}
}

// ValidateNumber checks the wagered number against the format of its kind and, for panna kinds,
// against table membership under the declared sub-kind.
func ValidateNumber(kind domain.BetKind, number string) error {
	if !kind.Valid() {
		return domain.ErrInvalidBetKind
	}
	number = strings.TrimSpace(number)
	if !IsDigits(number, kind.Digits()) {
		return domain.ErrInvalidNumberFormat
	}
	if !kind.IsPanna() {
		return nil
	}
	if Classify(number) != classFor(kind) || !IsValidPanna(number) {
		return domain.ErrInvalidNumberFormat
	}
	return nil
}

// Picker returns a uniformly distributed integer in [0, n).
type Picker func(n int) int

// CryptoPicker draws from crypto/rand.
func CryptoPicker(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// GenerateResult draws a uniformly random leading digit for each side, a uniformly random panna
// from that digit's bucket, and derives the jodi from the two leading digits.
func GenerateResult(pick Picker) domain.Result {
	if pick == nil {
		pick = CryptoPicker
	}
	open := randomPanna(pick)
	closeP := randomPanna(pick)
	return domain.Result{
		OpenPanna:  open,
		Jodi:       open[:1] + closeP[:1],
		ClosePanna: closeP,
	}
}

func randomPanna(pick Picker) string {
	bucket := byLeading[pick(10)]
	return bucket[pick(len(bucket))]
}

// ValidateResult checks a manually supplied result. Pannas must be valid table entries and the jodi
// two digits; with strict set the jodi must also equal the pannas' leading digits.
func ValidateResult(r domain.Result, strict bool) error {
	if !IsValidPanna(r.OpenPanna) || !IsValidPanna(r.ClosePanna) {
		return domain.ErrInvalidResultFormat
	}
	if !IsDigits(r.Jodi, 2) {
		return domain.ErrInvalidResultFormat
	}
	if strict && !JodiConsistent(r) {
		return domain.ErrInvalidResultFormat
	}
	return nil
}

// JodiConsistent reports whether the jodi derives from the leading digits of both pannas.
func JodiConsistent(r domain.Result) bool {
	if len(r.Jodi) != 2 || r.OpenPanna == "" || r.ClosePanna == "" {
		return false
	}
	return r.Jodi[0] == r.OpenPanna[0] && r.Jodi[1] == r.ClosePanna[0]
}

// Wins evaluates a wager number of the given kind against a declared result.
func Wins(kind domain.BetKind, number string, r domain.Result) bool {
	switch kind {
	case domain.BetSingleDigit:
		return len(r.OpenPanna) > 0 && number == r.OpenPanna[:1]
	case domain.BetJodi:
		return number == r.Jodi
	case domain.BetSinglePanna, domain.BetDoublePanna, domain.BetTriplePanna:
		return number == r.OpenPanna || number == r.ClosePanna
	default:
		return false
	}
}
