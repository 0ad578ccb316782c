package speech

// Option is a selectable catalog entry.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// DefaultVoice is used when no voice is configured.
const DefaultVoice = "zh_female_vv_uranus_bigtts"

// Voices lists the 2.0 general-purpose speakers.
var Voices = []Option{
	{"zh_female_xiaohe_uranus_bigtts", "Xiaohe 2.0 (female)"},
	{"zh_female_vv_uranus_bigtts", "Vivi 2.0 (female)"},
	{"zh_male_m191_uranus_bigtts", "Yunzhou 2.0 (male)"},
	{"zh_male_taocheng_uranus_bigtts", "Xiaotian 2.0 (male)"},
}

// Emotions lists reading emotions; the empty id keeps the voice default.
var Emotions = []Option{
	{"neutral", "Neutral"},
	{"authoritative", "Authoritative"},
	{"happy", "Happy"},
	{"excited", "Excited"},
	{"warm", "Warm"},
	{"affectionate", "Affectionate"},
	{"chat", "Chat"},
	{"asmr", "ASMR"},
	{"angry", "Angry"},
	{"sad", "Sad"},
	{"", "Default"},
	{"fear", "Fear"},
	{"disgusted", "Disgusted"},
	{"surprised", "Surprised"},
}

// KnownVoice reports whether id is in the catalog
func KnownVoice(id string) bool {
	for _, v := range Voices {
		if v.ID == id {
			return true
		}
	}
	return false
}
