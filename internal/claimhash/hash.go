// Package claimhash вычисляет content address семантического claim.
// Hash детерминированно выводится из (key, value, source): одинаковая
// тройка всегда дает одинаковый hash независимо от узла и порядка
// прибытия, поэтому повторная вставка известного claim — это no-op.
package claimhash

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/chrysalis/replicant/internal/codec"
)

// claimDomainKey — 32-байтный ключ для BLAKE3 keyed hashing.
// Domain separation гарантирует, что одни и те же байты в другом
// контексте дадут другой hash. Значение — ASCII имя домена,
// дополненное нулями до 32 байт. Менять нельзя: смена ключа
// инвалидирует все существующие hashes.
var claimDomainKey = [32]byte{
	'r', 'e', 'p', 'l', 'i', 'c', 'a', 'n', 't', '.',
	'c', 'l', 'a', 'i', 'm', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Compute возвращает hex-encoded content address для тройки
// (key, value, source). Preimage — детерминированный CBOR массив
// из трех строк, поэтому кодирование стабильно между запусками
// и реализациями.
func Compute(key, value, source string) (string, error) {
	preimage, err := codec.Marshal([3]string{key, value, source})
	if err != nil {
		return "", err
	}

	hasher, err := blake3.NewKeyed(claimDomainKey[:])
	if err != nil {
		return "", err
	}
	_, _ = hasher.Write(preimage) // Write в blake3 hasher не возвращает ошибок

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
