// Package codec предоставляет детерминированную CBOR сериализацию.
// Одинаковые логические данные всегда кодируются в одинаковые байты,
// что необходимо для content addressing и стабильного формата WAL.
package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode — CBOR encoder в режиме Core Deterministic Encoding
// (RFC 8949 §4.2): отсортированные ключи, минимальная кодировка чисел.
var encMode cbor.EncMode

// decMode — CBOR decoder, принимающий стандартный CBOR.
// Неизвестные поля игнорируются для прямой совместимости.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal кодирует v в детерминированный CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal декодирует CBOR данные в v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
