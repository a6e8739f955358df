package utils

// math.go - финансовая математика сканера
//
// Чистые функции для расчёта спредов и комиссий, без побочных эффектов.
// Все цены и объёмы - float64; спреды и ставки комиссий - в процентах;
// денежные величины (стоимость, выручка, комиссия) - в котируемой валюте.

// SpreadPercent возвращает спред между ценой покупки и ценой продажи
// в процентах от цены покупки.
//
// Примеры:
//   - SpreadPercent(100, 102) = 2.0
//   - SpreadPercent(100, 99) = -1.0
//   - SpreadPercent(0, 102) = 0 (защита от деления на ноль)
func SpreadPercent(buyPrice, sellPrice float64) float64 {
	if buyPrice <= 0 {
		return 0
	}
	return (sellPrice - buyPrice) / buyPrice * 100
}

// FeesPaid возвращает суммарную комиссию тейкера за обе ноги сделки
// в котируемой валюте. Комиссия покупки берётся от стоимости покупки,
// комиссия продажи - от выручки. Комиссии не компаундируются.
//
// Параметры:
//   - cost: стоимость покупки в котируемой валюте
//   - revenue: выручка от продажи в котируемой валюте
//   - buyFeePct, sellFeePct: ставки комиссий в процентах
func FeesPaid(cost, revenue, buyFeePct, sellFeePct float64) float64 {
	return cost*buyFeePct/100 + revenue*sellFeePct/100
}

// NetSpreadPercent возвращает чистую доходность сделки после вычета
// комиссий, в процентах от стоимости покупки:
//
//	net = ((revenue - fees) - cost) / cost * 100
//
// Именно эта величина сравнивается с порогом доходности.
func NetSpreadPercent(cost, revenue, buyFeePct, sellFeePct float64) float64 {
	if cost <= 0 {
		return 0
	}
	fees := FeesPaid(cost, revenue, buyFeePct, sellFeePct)
	return (revenue - fees - cost) / cost * 100
}

// ============ Примитивы ============

// Abs возвращает модуль числа
func Abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// Min возвращает меньшее из двух чисел
func Min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Max возвращает большее из двух чисел
func Max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
