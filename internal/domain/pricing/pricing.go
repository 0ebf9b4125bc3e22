package pricing

import (
	"fmt"

	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/shopspring/decimal"
)

// Причины принятого ценового решения, попадают в логи и события
const (
	ReasonStandardMarkup        = "standard_markup"
	ReasonNotProfitableVsBuybox = "not_profitable_vs_buybox"
	ReasonCompetitiveMatch      = "competitive_match"
	ReasonFloorClamped          = "floor_clamped"
)

// priceExponent - число знаков после запятой в итоговой цене
const priceExponent = 2

var one = decimal.NewFromInt(1)

// Policy - ценовая политика запуска: налог, целевая наценка, минимальная маржа
// и минимальный шаг цены валюты маркетплейса
type Policy struct {
	TaxRate      decimal.Decimal
	TargetMarkup decimal.Decimal
	MarginFloor  decimal.Decimal
	// PriceStep - наименьшая неделимая единица валюты. Вычитается из цены буйбокса
	// вместо плавающей константы, чтобы не накапливать ошибку округления между запусками.
	PriceStep decimal.Decimal
}

// NewPolicy разбирает политику из строковых значений конфигурации
func NewPolicy(taxRate, targetMarkup, marginFloor, priceStep string) (Policy, error) {
	var p Policy
	var err error

	if p.TaxRate, err = decimal.NewFromString(taxRate); err != nil {
		return Policy{}, fmt.Errorf("некорректный tax_rate %q: %w", taxRate, err)
	}
	if p.TargetMarkup, err = decimal.NewFromString(targetMarkup); err != nil {
		return Policy{}, fmt.Errorf("некорректный target_markup %q: %w", targetMarkup, err)
	}
	if p.MarginFloor, err = decimal.NewFromString(marginFloor); err != nil {
		return Policy{}, fmt.Errorf("некорректный margin_floor %q: %w", marginFloor, err)
	}
	if p.PriceStep, err = decimal.NewFromString(priceStep); err != nil {
		return Policy{}, fmt.Errorf("некорректный price_step %q: %w", priceStep, err)
	}
	if !p.PriceStep.IsPositive() {
		return Policy{}, fmt.Errorf("price_step должен быть положительным, получен %s", p.PriceStep)
	}
	return p, nil
}

// Decision - итог работы ценового движка
type Decision struct {
	Price  decimal.Decimal
	Reason string
}

// CostReal возвращает себестоимость с учетом налога
func (p Policy) CostReal(costBasis decimal.Decimal) decimal.Decimal {
	return costBasis.Mul(one.Add(p.TaxRate))
}

// TargetPrice возвращает цену при целевой наценке
func (p Policy) TargetPrice(costBasis decimal.Decimal) decimal.Decimal {
	return p.CostReal(costBasis).Mul(one.Add(p.TargetMarkup)).Round(priceExponent)
}

// FloorPrice возвращает минимально допустимую цену при минимальной марже
func (p Policy) FloorPrice(costBasis decimal.Decimal) decimal.Decimal {
	return p.CostReal(costBasis).Mul(one.Add(p.MarginFloor)).Round(priceExponent)
}

// ReconstructCost восстанавливает закупочную цену из сохраненной целевой цены.
// Используется, когда cost_basis неизвестен; нулевая себестоимость никогда не подставляется.
func (p Policy) ReconstructCost(listPriceTarget decimal.Decimal) (decimal.Decimal, error) {
	denom := one.Add(p.TaxRate).Mul(one.Add(p.TargetMarkup))
	if !listPriceTarget.IsPositive() || !denom.IsPositive() {
		return decimal.Decimal{}, utils.ErrCostBasisUnknown
	}
	return listPriceTarget.Div(denom).Round(priceExponent), nil
}

// Decide вычисляет новую цену товара.
// Для некаталожной карточки (или при отсутствии цены буйбокса) - целевая цена.
// Для каталожной: если буйбокс ниже пола, конкурировать невыгодно и цена
// возвращается к целевой; иначе встаем на шаг ниже буйбокса, но не ниже пола.
func (p Policy) Decide(costBasis decimal.Decimal, isCatalog bool, buybox *decimal.Decimal) Decision {
	target := p.TargetPrice(costBasis)
	floor := p.FloorPrice(costBasis)

	if !isCatalog || buybox == nil {
		return Decision{Price: target, Reason: ReasonStandardMarkup}
	}

	if buybox.LessThan(floor) {
		return Decision{Price: target, Reason: ReasonNotProfitableVsBuybox}
	}

	competitive := buybox.Sub(p.PriceStep)
	if competitive.GreaterThanOrEqual(floor) {
		return Decision{Price: competitive, Reason: ReasonCompetitiveMatch}
	}
	return Decision{Price: floor, Reason: ReasonFloorClamped}
}
