// internal/models/character.go
package models

import "fmt"

// Genre 故事类型
type Genre string

const (
	GenreFantasy   Genre = "Fantasy"
	GenreSciFi     Genre = "Sci-Fi"
	GenreMystery   Genre = "Mystery"
	GenreRomance   Genre = "Romance"
	GenreHorror    Genre = "Horror"
	GenreCyberpunk Genre = "Cyberpunk"
	GenreWestern   Genre = "Western"
	GenreComedy    Genre = "Comedy"

	DefaultGenre = GenreFantasy
)

// Genres 可选类型，按界面展示顺序
var Genres = []Genre{
	GenreFantasy, GenreSciFi, GenreMystery, GenreRomance,
	GenreHorror, GenreCyberpunk, GenreWestern, GenreComedy,
}

// Gender 角色性别
type Gender string

const (
	GenderMale      Gender = "Male"
	GenderFemale    Gender = "Female"
	GenderNonBinary Gender = "Non-binary"
	GenderOther     Gender = "Other"
)

// Genders 可选性别
var Genders = []Gender{GenderMale, GenderFemale, GenderNonBinary, GenderOther}

// Personality 角色性格
type Personality string

const (
	PersonalityCalm       Personality = "Calm"
	PersonalityAnxious    Personality = "Anxious"
	PersonalityEnergetic  Personality = "Energetic"
	PersonalityStoic      Personality = "Stoic"
	PersonalityCheerful   Personality = "Cheerful"
	PersonalityCynical    Personality = "Cynical"
	PersonalityBrave      Personality = "Brave"
	PersonalityCowardly   Personality = "Cowardly"
	PersonalityMysterious Personality = "Mysterious"
	PersonalityCustom     Personality = "Custom"
)

// Personalities 可选性格，Custom 放在最后
var Personalities = []Personality{
	PersonalityCalm, PersonalityAnxious, PersonalityEnergetic, PersonalityStoic,
	PersonalityCheerful, PersonalityCynical, PersonalityBrave, PersonalityCowardly,
	PersonalityMysterious, PersonalityCustom,
}

// 提示词中使用的兜底值
const (
	UnknownName        = "Unknown"
	ComplexPersonality = "Complex"
)

// Character 表示故事中的一个角色
type Character struct {
	Name              string      `json:"name"`
	Gender            Gender      `json:"gender"`
	Personality       Personality `json:"personality"`
	CustomPersonality string      `json:"custom_personality,omitempty"` // 仅在 Personality 为 Custom 时使用
}

// InitialCharacter 会话创建时自带的第一个角色
func InitialCharacter() Character {
	return Character{Gender: GenderMale, Personality: PersonalityBrave}
}

// NewCharacter 通过“添加角色”追加的默认角色
func NewCharacter() Character {
	return Character{Gender: GenderMale, Personality: PersonalityCalm}
}

// DisplayName 名字为空时返回 Unknown
func (c Character) DisplayName() string {
	if c.Name == "" {
		return UnknownName
	}
	return c.Name
}

// EffectivePersonality 解析提示词中使用的性格
func (c Character) EffectivePersonality() string {
	if c.Personality != PersonalityCustom {
		return string(c.Personality)
	}
	if c.CustomPersonality == "" {
		return ComplexPersonality
	}
	return c.CustomPersonality
}

// CharacterUpdate 角色字段修改操作，只能是下面四种之一
type CharacterUpdate interface {
	characterUpdate()
}

// SetName 修改名字
type SetName struct{ Value string }

// SetGender 修改性别
type SetGender struct{ Value Gender }

// SetPersonality 修改性格选项
type SetPersonality struct{ Value Personality }

// SetCustomPersonality 修改自定义性格文本，不改变 Personality
type SetCustomPersonality struct{ Value string }

func (SetName) characterUpdate()              {}
func (SetGender) characterUpdate()            {}
func (SetPersonality) characterUpdate()       {}
func (SetCustomPersonality) characterUpdate() {}

// ApplyCharacterUpdate 将修改应用到角色上
func ApplyCharacterUpdate(c *Character, update CharacterUpdate) {
	switch u := update.(type) {
	case SetName:
		c.Name = u.Value
	case SetGender:
		c.Gender = u.Value
	case SetPersonality:
		c.Personality = u.Value
	case SetCustomPersonality:
		c.CustomPersonality = u.Value
	default:
		panic(fmt.Sprintf("unhandled character update %T", update))
	}
}

// 修改操作名称，用于 API 请求
const (
	OpSetName              = "set_name"
	OpSetGender            = "set_gender"
	OpSetPersonality       = "set_personality"
	OpSetCustomPersonality = "set_custom_personality"
)

// ParseCharacterUpdate 根据操作名称和值构建修改操作，并校验枚举值
func ParseCharacterUpdate(op, value string) (CharacterUpdate, error) {
	switch op {
	case OpSetName:
		return SetName{Value: value}, nil
	case OpSetGender:
		if !IsValidGender(Gender(value)) {
			return nil, fmt.Errorf("unknown gender %q", value)
		}
		return SetGender{Value: Gender(value)}, nil
	case OpSetPersonality:
		if !IsValidPersonality(Personality(value)) {
			return nil, fmt.Errorf("unknown personality %q", value)
		}
		return SetPersonality{Value: Personality(value)}, nil
	case OpSetCustomPersonality:
		return SetCustomPersonality{Value: value}, nil
	default:
		return nil, fmt.Errorf("unknown character update %q", op)
	}
}

// IsValidGenre 检查类型是否为可选值
func IsValidGenre(g Genre) bool {
	for _, genre := range Genres {
		if genre == g {
			return true
		}
	}
	return false
}

// IsValidGender 检查性别是否为可选值
func IsValidGender(g Gender) bool {
	for _, gender := range Genders {
		if gender == g {
			return true
		}
	}
	return false
}

// IsValidPersonality 检查性格是否为可选值
func IsValidPersonality(p Personality) bool {
	for _, personality := range Personalities {
		if personality == p {
			return true
		}
	}
	return false
}
