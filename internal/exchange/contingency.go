package exchange

import (
	"strings"

	"tradecore/internal/models"
	"tradecore/pkg/utils"
)

// LinkContingentOrders восстанавливает LinkedOrderIDs и ParentOrderID
// в отчётах, полученных одним ответом площадки.
//
// Группы строятся сначала по OrderListID, затем для оставшихся условных
// ордеров - по префиксу client order id до последнего '-'. Если ордер
// попадает в обе группировки, действует OrderListID. Для OCO и OTO
// родитель идёт первым в LinkedOrderIDs, у OUO родителя нет. Условный
// ордер без пары понижается до NoContingency.
func LinkContingentOrders(reports []models.OrderStatusReport) {
	if len(reports) == 0 {
		return
	}
	logger := utils.L().WithComponent("contingency")

	grouped := make([]bool, len(reports))
	var groups [][]int

	byList := make(map[models.OrderListID][]int)
	var listOrder []models.OrderListID
	for i := range reports {
		id := reports[i].OrderListID
		if id == "" {
			continue
		}
		if _, ok := byList[id]; !ok {
			listOrder = append(listOrder, id)
		}
		byList[id] = append(byList[id], i)
	}
	for _, id := range listOrder {
		groups = append(groups, byList[id])
		for _, i := range byList[id] {
			grouped[i] = true
		}
	}

	byPrefix := make(map[string][]int)
	var prefixOrder []string
	for i := range reports {
		r := &reports[i]
		if grouped[i] || !r.IsContingent() || r.ClientOrderID == "" {
			continue
		}
		prefix := clientIDPrefix(string(r.ClientOrderID))
		if prefix == "" {
			continue
		}
		if _, ok := byPrefix[prefix]; !ok {
			prefixOrder = append(prefixOrder, prefix)
		}
		byPrefix[prefix] = append(byPrefix[prefix], i)
	}
	for _, p := range prefixOrder {
		groups = append(groups, byPrefix[p])
		for _, i := range byPrefix[p] {
			grouped[i] = true
		}
	}

	for _, g := range groups {
		linkGroup(reports, g)
	}

	for i := range reports {
		r := &reports[i]
		if r.IsContingent() && len(r.LinkedOrderIDs) == 0 {
			logger.Warn("Contingent order has no linked orders, downgrading to NO_CONTINGENCY",
				utils.OrderID(string(r.ClientOrderID)),
				utils.String("venue_order_id", string(r.VenueOrderID)),
				utils.String("contingency", r.Contingency.String()),
			)
			r.Contingency = models.NoContingency
			r.ParentOrderID = ""
		}
	}
}

// clientIDPrefix - всё до последнего '-'; пусто, если '-' нет
func clientIDPrefix(id string) string {
	i := strings.LastIndexByte(id, '-')
	if i <= 0 {
		return ""
	}
	return id[:i]
}

// linkGroup связывает ордера одной группы
func linkGroup(reports []models.OrderStatusReport, group []int) {
	if len(group) < 2 {
		return
	}

	contingency := models.NoContingency
	for _, i := range group {
		if c := reports[i].Contingency; c != models.NoContingency {
			contingency = c
			break
		}
	}
	if contingency == models.NoContingency {
		return
	}

	// Родитель OCO/OTO - первый ордер группы в порядке ответа
	var parent models.ClientOrderID
	if contingency == models.ContingencyOCO || contingency == models.ContingencyOTO {
		parent = reports[group[0]].ClientOrderID
	}

	ids := make([]models.ClientOrderID, 0, len(group))
	for _, i := range group {
		if id := reports[i].ClientOrderID; id != "" {
			ids = append(ids, id)
		}
	}

	for _, i := range group {
		r := &reports[i]
		self := r.ClientOrderID

		linked := make([]models.ClientOrderID, 0, len(ids)-1)
		for _, id := range ids {
			if id != self {
				linked = append(linked, id)
			}
		}
		if len(linked) == 0 {
			continue
		}
		r.LinkedOrderIDs = linked
		if r.Contingency == models.NoContingency {
			r.Contingency = contingency
		}
		if parent != "" && self != parent {
			r.ParentOrderID = parent
		}
	}
}
