package scanner

import (
	"github.com/rekwert/tesor/internal/exchange"
	"github.com/rekwert/tesor/pkg/utils"
)

// ladder.go - обход сведённых лестниц двух стаканов
//
// Ядро сканера: жадный проход по аскам биржи покупки и бидам биржи
// продажи с накоплением объёма, пока сделка остаётся прибыльной.
// Остатки частично съеденных уровней ведутся в локальных переменных,
// сами лестницы не изменяются - их можно передавать по ссылке прямо
// из хранилища.

// epsilon - абсолютный допуск сравнения объёмов и остатков
const epsilon = 1e-9

// ladderResult - лучший по чистой доходности префикс сведённых лестниц.
// Все денежные величины в котируемой валюте, объём в базовой.
type ladderResult struct {
	Volume   float64 // исполнимый объём V
	AvgBuy   float64 // средневзвешенная цена покупки C/V
	AvgSell  float64 // средневзвешенная цена продажи R/V
	GrossPct float64 // спред до комиссий
	NetPct   float64 // доходность после комиссий
	Fees     float64 // суммарная комиссия обеих ног
	Cost     float64 // стоимость покупки C
	Revenue  float64 // выручка от продажи R
}

// walkLadders идёт по аскам (по возрастанию цены) и бидам (по убыванию),
// на каждом шаге съедая min(остаток аска, остаток бида, остаток лимита).
// Средний спред монотонно не растёт с глубиной, поэтому как только
// накопленная чистая доходность падает ниже порога, дальше идти
// бессмысленно. Лучший префикс при этом может быть раньше точки
// остановки - он отслеживается отдельно.
//
// Возвращает false, если ни один префикс не прошёл порог.
func walkLadders(asks, bids []exchange.PriceLevel, minProfitPct, maxVolume, buyFeePct, sellFeePct float64) (ladderResult, bool) {
	var (
		ia, ib     int
		remA, remB float64 // непроданный остаток текущего уровня
		v, c, r    float64
		best       ladderResult
		found      bool
	)
	if len(asks) > 0 {
		remA = asks[0].Volume
	}
	if len(bids) > 0 {
		remB = bids[0].Volume
	}

	for ia < len(asks) && ib < len(bids) && maxVolume-v > epsilon {
		step := utils.Min(utils.Min(remA, remB), maxVolume-v)
		if step <= epsilon {
			// Текущий уровень съеден до пыли - двигаем курсор
			if remA <= epsilon {
				ia++
				if ia < len(asks) {
					remA = asks[ia].Volume
				}
			}
			if remB <= epsilon {
				ib++
				if ib < len(bids) {
					remB = bids[ib].Volume
				}
			}
			continue
		}

		v += step
		c += step * asks[ia].Price
		r += step * bids[ib].Price
		remA -= step
		remB -= step

		netPct := utils.NetSpreadPercent(c, r, buyFeePct, sellFeePct)
		if netPct >= minProfitPct && (!found || netPct > best.NetPct) {
			avgBuy, avgSell := c/v, r/v
			best = ladderResult{
				Volume:   v,
				AvgBuy:   avgBuy,
				AvgSell:  avgSell,
				GrossPct: utils.SpreadPercent(avgBuy, avgSell),
				NetPct:   netPct,
				Fees:     utils.FeesPaid(c, r, buyFeePct, sellFeePct),
				Cost:     c,
				Revenue:  r,
			}
			found = true
		}
		if netPct < minProfitPct {
			break
		}
	}

	if !found || best.Volume <= epsilon {
		return ladderResult{}, false
	}
	return best, true
}
